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

// Package httpmetrics tracks per-target request metrics in a self-expiring,
// reference-counted registry and exposes them as prometheus families.
//
// Records are created on first use, mutated by request-handling middleware,
// and reclaimed once they are both idle and unreferenced. That reclamation
// is what keeps unbounded-cardinality label sets, such as one record per
// observed peer address, from growing without bound.
package httpmetrics

import (
	"time"

	"k8s.io/utils/clock"
)

// Requests owns a registry of per-target request records, all sharing one
// clock. The type parameters are the target key and the response
// classification value.
type Requests[T Key, C Key] struct {
	clock    clock.PassiveClock
	registry *Registry[T, *Metrics[C]]
}

type options struct {
	clock clock.PassiveClock
}

// Option configures a Requests store.
type Option func(*options)

// withClock overrides the store's clock, for tests.
func withClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// NewRequests returns an empty per-target request metrics store.
func NewRequests[T Key, C Key](opts ...Option) *Requests[T, C] {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Requests[T, C]{clock: o.clock}
	r.registry = NewRegistry[T](func() *Metrics[C] { return newMetrics[C](o.clock) })
	return r
}

// GetOrCreate returns a retained handle to the record for key; see
// Registry.GetOrCreate. The caller must Release the handle.
func (r *Requests[T, C]) GetOrCreate(key T) *Handle[*Metrics[C]] {
	return r.registry.GetOrCreate(key)
}

// RetainSince evicts records that are both older than cutoff and
// unreferenced; see Registry.RetainSince.
func (r *Requests[T, C]) RetainSince(cutoff time.Time) {
	r.registry.RetainSince(cutoff)
}

// Len returns the number of live records.
func (r *Requests[T, C]) Len() int {
	return r.registry.Len()
}
