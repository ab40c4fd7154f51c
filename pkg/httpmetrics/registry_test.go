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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type testTarget struct {
	port int
}

func (t testTarget) MetricLabels() []Label {
	return []Label{{Name: "target", Value: strconv.Itoa(t.port)}}
}

type testClass string

const (
	classSuccess testClass = "success"
	classFailure testClass = "failure"
)

func (c testClass) MetricLabels() []Label {
	return []Label{{Name: "classification", Value: string(c)}}
}

func TestRetainSince_EvictsStaleUnreferenced(t *testing.T) {
	t0 := time.Now()
	fake := testingclock.NewFakeClock(t0)
	requests := NewRequests[testTarget, testClass](withClock(fake))

	handle := requests.GetOrCreate(testTarget{port: 123})
	require.Equal(t, 1, requests.Len())

	fake.Step(10 * time.Second)
	t1 := fake.Now()

	// Stale, but the held handle shields the record.
	requests.RetainSince(t1)
	assert.Equal(t, 1, requests.Len(), "a referenced record must survive the sweep")

	handle.Release()

	// Unreferenced, but fresh relative to the cutoff.
	requests.RetainSince(t0)
	assert.Equal(t, 1, requests.Len(), "a record newer than the cutoff must survive the sweep")

	// Unreferenced and stale.
	requests.RetainSince(t1)
	assert.Equal(t, 0, requests.Len())
}

func TestRetainSince_MutationExtendsLifetime(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	requests := NewRequests[testTarget, testClass](withClock(fake))

	requests.GetOrCreate(testTarget{port: 123}).Release()

	fake.Step(time.Minute)
	t1 := fake.Now()

	handle := requests.GetOrCreate(testTarget{port: 123})
	handle.Metrics().RecordResponse(200, classSuccess, 5*time.Millisecond)
	handle.Release()
	require.Equal(t, 1, requests.Len(), "re-access must reuse the record, not add one")

	// The mutation moved last-update to t1, so a t1 cutoff no longer
	// evicts.
	requests.RetainSince(t1)
	assert.Equal(t, 1, requests.Len())

	fake.Step(time.Minute)
	requests.RetainSince(fake.Now())
	assert.Equal(t, 0, requests.Len())
}

func TestGetOrCreate_SharesRecord(t *testing.T) {
	requests := NewRequests[testTarget, testClass]()

	first := requests.GetOrCreate(testTarget{port: 123})
	defer first.Release()
	first.Metrics().RecordResponse(200, classSuccess, time.Millisecond)

	second := requests.GetOrCreate(testTarget{port: 123})
	defer second.Release()
	assert.Equal(t, uint64(1), second.Metrics().Snapshot().Total, "both handles must reach the same record")

	other := requests.GetOrCreate(testTarget{port: 456})
	defer other.Release()
	assert.Equal(t, uint64(0), other.Metrics().Snapshot().Total)
	assert.Equal(t, 2, requests.Len())
}

func TestHandle_CloneKeepsRecordLive(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	requests := NewRequests[testTarget, testClass](withClock(fake))

	handle := requests.GetOrCreate(testTarget{port: 123})
	clone := handle.Clone()
	handle.Release()

	fake.Step(time.Minute)
	requests.RetainSince(fake.Now())
	assert.Equal(t, 1, requests.Len(), "a cloned handle must keep the record live")

	clone.Release()
	requests.RetainSince(fake.Now())
	assert.Equal(t, 0, requests.Len())
}

func TestHandle_ReleaseIdempotent(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	requests := NewRequests[testTarget, testClass](withClock(fake))

	handle := requests.GetOrCreate(testTarget{port: 123})
	clone := handle.Clone()

	// Double release must not consume the clone's reference.
	handle.Release()
	handle.Release()

	fake.Step(time.Minute)
	requests.RetainSince(fake.Now())
	assert.Equal(t, 1, requests.Len())

	assert.Panics(t, func() { handle.Clone() }, "cloning a released handle must panic")

	clone.Release()
	requests.RetainSince(fake.Now())
	assert.Equal(t, 0, requests.Len())
}

func TestRange_InsertionOrderStable(t *testing.T) {
	fake := testingclock.NewFakeClock(time.Now())
	requests := NewRequests[testTarget, testClass](withClock(fake))

	held := make([]*Handle[*Metrics[testClass]], 0, 3)
	for _, port := range []int{1, 2, 3} {
		held = append(held, requests.GetOrCreate(testTarget{port: port}))
	}

	order := func() []int {
		var ports []int
		requests.registry.Range(func(key testTarget, _ *Metrics[testClass]) bool {
			ports = append(ports, key.port)
			return true
		})
		return ports
	}
	assert.Equal(t, []int{1, 2, 3}, order())

	// Evicting the middle record must not disturb the survivors' order,
	// and a later insertion appends at the end.
	held[1].Release()
	fake.Step(time.Minute)
	requests.RetainSince(fake.Now())
	assert.Equal(t, []int{1, 3}, order())

	h := requests.GetOrCreate(testTarget{port: 4})
	defer h.Release()
	assert.Equal(t, []int{1, 3, 4}, order())

	held[0].Release()
	held[2].Release()
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	requests := NewRequests[testTarget, testClass]()

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				handle := requests.GetOrCreate(testTarget{port: w})
				handle.Metrics().RecordResponse(200, classSuccess, time.Millisecond)
				handle.Release()
				// Sweeping with a zero cutoff never evicts, but it contends
				// for the map lock against every other worker.
				requests.RetainSince(time.Time{})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, workers, requests.Len())
	for w := 0; w < workers; w++ {
		handle := requests.GetOrCreate(testTarget{port: w})
		assert.Equal(t, uint64(perWorker), handle.Metrics().Snapshot().Total)
		handle.Release()
	}
}
