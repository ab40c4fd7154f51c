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

// Package metrics holds the proxy's control-plane client instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	compbasemetrics "k8s.io/component-base/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	metricsutil "github.com/kailun-qin/linkerd2-proxy/internal/metricsutil"
)

// StrategyComponent is the metric subsystem for the strategy watch client.
const StrategyComponent = "strategy"

// Reasons a watch daemon stops running.
const (
	// TerminationReasonComplete marks a clean shutdown after every reader
	// released its handle.
	TerminationReasonComplete = "complete"
	// TerminationReasonNonRecoverable marks a failure the backoff policy
	// refused to retry.
	TerminationReasonNonRecoverable = "non_recoverable"
	// TerminationReasonBackoffExhausted marks a retry schedule that ran out
	// of ticks.
	TerminationReasonBackoffExhausted = "backoff_exhausted"
)

var (
	watchesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: StrategyComponent,
			Name:      "watches_active",
			Help:      metricsutil.HelpMsgWithStability("Number of strategy watch daemons currently running.", compbasemetrics.ALPHA),
		},
	)

	snapshotsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: StrategyComponent,
			Name:      "snapshots_published_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of strategy snapshots published to watch readers.", compbasemetrics.ALPHA),
		},
		[]string{"target_addr"},
	)

	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: StrategyComponent,
			Name:      "reconnects_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of reconnect attempts made while recovering a strategy stream.", compbasemetrics.ALPHA),
		},
		[]string{"target_addr"},
	)

	watchTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: StrategyComponent,
			Name:      "watch_terminations_total",
			Help:      metricsutil.HelpMsgWithStability("Counter of strategy watch daemons that stopped, partitioned by reason.", compbasemetrics.ALPHA),
		},
		[]string{"target_addr", "reason"},
	)
)

var registerMetrics sync.Once

// Register all metrics, along with any custom collectors (such as the
// registry export collector), into the controller-runtime registry.
func Register(customCollectors ...prometheus.Collector) {
	registerMetrics.Do(func() {
		metrics.Registry.MustRegister(watchesActive)
		metrics.Registry.MustRegister(snapshotsPublished)
		metrics.Registry.MustRegister(reconnects)
		metrics.Registry.MustRegister(watchTerminations)

		for _, collector := range customCollectors {
			metrics.Registry.MustRegister(collector)
		}
	})
}

// Reset metrics, for tests only.
func Reset() {
	watchesActive.Set(0)
	snapshotsPublished.Reset()
	reconnects.Reset()
	watchTerminations.Reset()
}

// RecordWatchStarted marks a new watch daemon as running.
func RecordWatchStarted() {
	watchesActive.Inc()
}

// RecordWatchTermination marks a watch daemon as stopped for the given
// reason.
func RecordWatchTermination(targetAddr, reason string) {
	watchesActive.Dec()
	watchTerminations.WithLabelValues(targetAddr, reason).Inc()
}

// RecordSnapshotPublished records one snapshot delivered to the broadcast
// channel for the given target.
func RecordSnapshotPublished(targetAddr string) {
	snapshotsPublished.WithLabelValues(targetAddr).Inc()
}

// RecordReconnect records one reconnect attempt for the given target.
func RecordReconnect(targetAddr string) {
	reconnects.WithLabelValues(targetAddr).Inc()
}
