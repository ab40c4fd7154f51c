/*
Copyright 2026 The linkerd2-proxy Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	compbasemetrics "k8s.io/component-base/metrics"

	metricsutil "github.com/kailun-qin/linkerd2-proxy/internal/metricsutil"
)

// DefaultRetainIdle is the idle retention applied when ReportOpts leaves it
// unset.
const DefaultRetainIdle = 10 * time.Minute

var (
	requestTotalHelp    = metricsutil.HelpMsgWithStability("Total count of requests observed for a target.", compbasemetrics.ALPHA)
	responseLatencyHelp = metricsutil.HelpMsgWithStability("Histogram of response latencies in milliseconds, by target and response status code.", compbasemetrics.ALPHA)
	responseTotalHelp   = metricsutil.HelpMsgWithStability("Total count of responses, by target, response status code, and classification.", compbasemetrics.ALPHA)
)

// ReportOpts configures a Report collector.
type ReportOpts struct {
	// Prefix is prepended, with an underscore, to every exported family
	// name.
	Prefix string
	// RetainIdle is how long an untouched, unreferenced record survives
	// before a scrape may evict it. Zero applies DefaultRetainIdle.
	RetainIdle time.Duration
}

// Report exposes a Requests store as the request_total,
// response_latency_ms, and response_total families. Collecting doubles as
// the store's garbage-collection trigger: each scrape first evicts records
// idle longer than the configured retention, then emits the survivors in
// insertion order.
type Report[T Key, C Key] struct {
	requests   *Requests[T, C]
	prefix     string
	retainIdle time.Duration
}

// Report returns a collector exposing this store. The exported label names
// depend on the keys observed at runtime, so the collector is unchecked and
// must be registered accordingly.
func (r *Requests[T, C]) Report(opts ReportOpts) *Report[T, C] {
	retain := opts.RetainIdle
	if retain <= 0 {
		retain = DefaultRetainIdle
	}
	return &Report[T, C]{requests: r, prefix: opts.Prefix, retainIdle: retain}
}

// Describe is intentionally empty, marking the collector as unchecked.
func (r *Report[T, C]) Describe(chan<- *prometheus.Desc) {}

// Collect sweeps idle records and then emits every retained record.
func (r *Report[T, C]) Collect(ch chan<- prometheus.Metric) {
	r.requests.RetainSince(r.requests.clock.Now().Add(-r.retainIdle))
	r.requests.registry.Range(func(key T, m *Metrics[C]) bool {
		r.collectRecord(ch, key, m.Snapshot())
		return true
	})
}

func (r *Report[T, C]) collectRecord(ch chan<- prometheus.Metric, key T, snap MetricsSnapshot[C]) {
	names, values := splitLabels(key.MetricLabels())

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(r.family("request_total"), requestTotalHelp, names, nil),
		prometheus.CounterValue, float64(snap.Total), values...)

	statusNames := concat(names, []string{"status_code"})
	for _, status := range snap.ByStatus {
		statusValues := concat(values, []string{statusCode(status.Status)})
		ch <- prometheus.MustNewConstHistogram(
			prometheus.NewDesc(r.family("response_latency_ms"), responseLatencyHelp, statusNames, nil),
			status.Latency.Count, status.Latency.Sum, status.Latency.Buckets(), statusValues...)
		for _, class := range status.ByClass {
			classNames, classValues := splitLabels(class.Class.MetricLabels())
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(r.family("response_total"), responseTotalHelp, concat(statusNames, classNames), nil),
				prometheus.CounterValue, float64(class.Total), concat(statusValues, classValues)...)
		}
	}
}

func (r *Report[T, C]) family(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "_" + name
}

// statusCode renders a response status label value; the zero status, meaning
// no response was observed, renders empty.
func statusCode(status int) string {
	if status == 0 {
		return ""
	}
	return strconv.Itoa(status)
}

func splitLabels(labels []Label) (names, values []string) {
	names = make([]string, 0, len(labels))
	values = make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
		values = append(values, l.Value)
	}
	return names, values
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
