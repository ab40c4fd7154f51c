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
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Label is one name/value pair of a metric label set.
type Label struct {
	Name  string
	Value string
}

// Labeler renders a value as metric labels for exposition.
type Labeler interface {
	MetricLabels() []Label
}

// Key constrains the types used for targets and response classes: hashable
// for registry lookup and renderable as labels for export.
type Key interface {
	comparable
	Labeler
}

// Metrics is the per-target record: a request counter plus latency and
// classification counters nested by response status code. All mutation
// happens under one record mutex, so an exporter never observes a partially
// applied event.
type Metrics[C Key] struct {
	clock clock.PassiveClock

	mu         sync.Mutex
	lastUpdate time.Time
	total      uint64
	// byStatus preserves first-seen order so export output is stable.
	byStatus []*statusMetrics[C]
}

// statusMetrics groups everything recorded under one response status code.
type statusMetrics[C Key] struct {
	status  int
	latency *histogram
	byClass []*classMetrics[C]
}

type classMetrics[C Key] struct {
	class C
	total uint64
}

func newMetrics[C Key](c clock.PassiveClock) *Metrics[C] {
	return &Metrics[C]{clock: c, lastUpdate: c.Now()}
}

// LastUpdate implements Record.
func (m *Metrics[C]) LastUpdate() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// RecordResponse records one completed request: it refreshes the record's
// update time, bumps the request counter, observes latency under the
// response's status code, and bumps that status's classification counter,
// all in one critical section. A zero status stands for "no response status"
// (for example, an aborted stream).
func (m *Metrics[C]) RecordResponse(status int, class C, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUpdate = m.clock.Now()
	m.total++
	s := m.statusLocked(status)
	s.latency.observe(latency)
	s.classLocked(class).total++
}

// Snapshot returns a deep copy of the record's current values, taken in one
// critical section.
func (m *Metrics[C]) Snapshot() MetricsSnapshot[C] {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot[C]{
		LastUpdate: m.lastUpdate,
		Total:      m.total,
		ByStatus:   make([]StatusSnapshot[C], 0, len(m.byStatus)),
	}
	for _, s := range m.byStatus {
		status := StatusSnapshot[C]{
			Status:  s.status,
			Latency: s.latency.snapshot(),
			ByClass: make([]ClassSnapshot[C], 0, len(s.byClass)),
		}
		for _, c := range s.byClass {
			status.ByClass = append(status.ByClass, ClassSnapshot[C]{Class: c.class, Total: c.total})
		}
		snap.ByStatus = append(snap.ByStatus, status)
	}
	return snap
}

func (m *Metrics[C]) statusLocked(status int) *statusMetrics[C] {
	for _, s := range m.byStatus {
		if s.status == status {
			return s
		}
	}
	s := &statusMetrics[C]{status: status, latency: newHistogram()}
	m.byStatus = append(m.byStatus, s)
	return s
}

func (s *statusMetrics[C]) classLocked(class C) *classMetrics[C] {
	for _, c := range s.byClass {
		if c.class == class {
			return c
		}
	}
	c := &classMetrics[C]{class: class}
	s.byClass = append(s.byClass, c)
	return c
}

// MetricsSnapshot is a point-in-time copy of one record.
type MetricsSnapshot[C Key] struct {
	LastUpdate time.Time
	Total      uint64
	ByStatus   []StatusSnapshot[C]
}

// StatusSnapshot is the copied state for one response status code.
type StatusSnapshot[C Key] struct {
	// Status is the response status code, zero when no response status was
	// observed.
	Status  int
	Latency HistogramSnapshot
	ByClass []ClassSnapshot[C]
}

// ClassSnapshot is the copied counter for one response classification.
type ClassSnapshot[C Key] struct {
	Class C
	Total uint64
}
