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
	"sync/atomic"
	"time"
)

// Record is the minimal surface the registry needs from a stored record to
// decide staleness.
type Record interface {
	// LastUpdate returns the time of the record's most recent mutation.
	LastUpdate() time.Time
}

// Registry is a keyed store of shared, reference-counted records. It is the
// proxy's guard against unbounded label cardinality: RetainSince reclaims
// records that are both stale and unreferenced, while a held Handle shields
// its record from eviction no matter how old it is.
type Registry[T comparable, M Record] struct {
	newRecord func() M

	// mu guards entries and order. Records synchronize their own mutation,
	// and handle reference counts are atomic.
	mu      sync.RWMutex
	entries map[T]*entry[M]
	order   []T
}

// entry pairs a record with the count of handles held outside the registry.
type entry[M Record] struct {
	metrics M
	refs    atomic.Int64
}

// NewRegistry returns an empty registry whose records are built by
// newRecord.
func NewRegistry[T comparable, M Record](newRecord func() M) *Registry[T, M] {
	return &Registry[T, M]{
		newRecord: newRecord,
		entries:   make(map[T]*entry[M]),
	}
}

// GetOrCreate returns a retained handle to the record for key, atomically
// inserting a freshly defaulted record if none exists. It never fails. The
// caller owns the returned handle and must Release it.
func (r *Registry[T, M]) GetOrCreate(key T) *Handle[M] {
	r.mu.RLock()
	if e, ok := r.entries[key]; ok {
		// Retain before releasing the read lock so a sweep cannot observe
		// the entry unreferenced while this handle exists.
		e.refs.Add(1)
		r.mu.RUnlock()
		return &Handle[M]{entry: e}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		e.refs.Add(1)
		return &Handle[M]{entry: e}
	}
	e := &entry[M]{metrics: r.newRecord()}
	e.refs.Add(1)
	r.entries[key] = e
	r.order = append(r.order, key)
	return &Handle[M]{entry: e}
}

// RetainSince evicts every record whose last update is older than cutoff and
// for which the registry's map entry is the only remaining reference. Both
// conditions are required: a held handle keeps a stale record alive, and a
// fresh record survives unreferenced. The sweep holds the map lock
// exclusively, visits every entry once, and performs no I/O.
func (r *Registry[T, M]) RetainSince(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, key := range r.order {
		e := r.entries[key]
		if e.refs.Load() == 0 && e.metrics.LastUpdate().Before(cutoff) {
			delete(r.entries, key)
			continue
		}
		kept = append(kept, key)
	}
	r.order = kept
}

// Len returns the number of live records.
func (r *Registry[T, M]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls f for every record in insertion order until f returns false.
// The map is read-locked for the duration, so f must not call back into the
// registry.
func (r *Registry[T, M]) Range(f func(key T, metrics M) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.order {
		if !f(key, r.entries[key].metrics) {
			return
		}
	}
}

// Handle is a counted reference to one record. Every handle must be
// released exactly once; Clone mints additional references.
type Handle[M Record] struct {
	entry    *entry[M]
	released atomic.Bool
}

// Metrics returns the shared record.
func (h *Handle[M]) Metrics() M {
	return h.entry.metrics
}

// Clone retains and returns a new handle to the same record. Clone panics on
// a released handle, since that reference could resurrect a record the
// registry has already swept.
func (h *Handle[M]) Clone() *Handle[M] {
	if h.released.Load() {
		panic("httpmetrics: Clone called on a released Handle")
	}
	h.entry.refs.Add(1)
	return &Handle[M]{entry: h.entry}
}

// Release drops this handle's reference. Release is idempotent; once no
// handles remain the record becomes evictable as soon as it goes stale.
func (h *Handle[M]) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.entry.refs.Add(-1)
	}
}
