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
	"sort"
	"time"
)

// LatencyBounds are the upper bounds, in milliseconds, of the response
// latency histogram buckets. An implicit +Inf bucket follows the last bound.
var LatencyBounds = []float64{
	1, 2, 3, 4, 5,
	10, 20, 30, 40, 50,
	100, 200, 300, 400, 500,
	1000, 2000, 3000, 4000, 5000,
	10000, 20000, 30000, 40000, 50000,
}

// histogram accumulates millisecond latencies into the LatencyBounds
// buckets. It is guarded by the owning record's mutex.
type histogram struct {
	// counts holds one non-cumulative bucket per bound, plus a trailing
	// +Inf bucket.
	counts []uint64
	sum    float64
	count  uint64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]uint64, len(LatencyBounds)+1)}
}

func (h *histogram) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	h.counts[sort.SearchFloat64s(LatencyBounds, ms)]++
	h.sum += ms
	h.count++
}

func (h *histogram) snapshot() HistogramSnapshot {
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return HistogramSnapshot{Counts: counts, Sum: h.sum, Count: h.count}
}

// HistogramSnapshot is a copy of a latency histogram. Counts holds one
// non-cumulative entry per LatencyBounds bound plus a final +Inf bucket; Sum
// is in milliseconds.
type HistogramSnapshot struct {
	Counts []uint64
	Sum    float64
	Count  uint64
}

// Buckets returns cumulative per-upper-bound counts in the form the
// prometheus client expects, excluding the +Inf bucket.
func (s HistogramSnapshot) Buckets() map[float64]uint64 {
	buckets := make(map[float64]uint64, len(LatencyBounds))
	var cumulative uint64
	for i, bound := range LatencyBounds {
		cumulative += s.Counts[i]
		buckets[bound] = cumulative
	}
	return buckets
}
