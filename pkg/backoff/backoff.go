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

// Package backoff defines the retry-policy boundary used by streaming clients:
// a Policy inspects a failure and either issues a Schedule of wait ticks or
// rejects the failure as non-recoverable.
package backoff

import (
	"context"
	"errors"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// ErrExhausted is returned by callers of a Schedule once Next reports that no
// ticks remain. It marks a distinguished fatal condition: retrying was
// allowed, but the budget ran out.
var ErrExhausted = errors.New("backoff: retry schedule exhausted")

// Policy converts a failure into a retry schedule or a verdict of
// non-recoverability.
type Policy interface {
	// Recover inspects err and returns a fresh Schedule when the failure may
	// be retried. A non-nil error declares the failure non-recoverable;
	// callers propagate it instead of retrying.
	Recover(err error) (Schedule, error)
}

// Schedule is a lazy sequence of retry ticks. A Schedule is not safe for
// concurrent use.
type Schedule interface {
	// Next blocks until the next retry delay elapses. It returns false with a
	// nil error once the schedule has no ticks left, and false with the
	// context's error when the wait is abandoned.
	Next(ctx context.Context) (bool, error)
}

// Defaults applied by Exponential wherever the corresponding field is unset.
const (
	// DefaultInitialDelay is the first delay of a fresh schedule.
	DefaultInitialDelay = 100 * time.Millisecond
	// DefaultMaxDelay caps delay growth.
	DefaultMaxDelay = 10 * time.Second
	// DefaultFactor doubles the delay on every tick.
	DefaultFactor = 2.0
	// DefaultJitter spreads each delay by up to half its nominal value.
	DefaultJitter = 0.5
)

// Exponential is a Policy issuing exponentially growing delays. The zero
// value is usable and equivalent to DefaultExponential.
type Exponential struct {
	// Backoff parameterizes the delay sequence: Duration is the first delay,
	// Factor the per-tick growth, Cap the growth ceiling, and Jitter the
	// random fraction added to each delay. Steps bounds how many ticks one
	// Schedule issues before reporting exhaustion; zero or negative means
	// schedules never exhaust.
	Backoff wait.Backoff

	// Recoverable reports whether a failure may be retried at all. Defaults
	// to RecoverableStatus.
	Recoverable func(error) bool

	// Clock drives the tick timers. Defaults to the real clock.
	Clock clock.Clock
}

var _ Policy = &Exponential{}

// DefaultExponential returns the policy used when none is configured: delays
// start at 100ms and double up to a 10s ceiling with 50% jitter, and the
// schedule never exhausts.
func DefaultExponential() *Exponential {
	return &Exponential{
		Backoff: wait.Backoff{
			Duration: DefaultInitialDelay,
			Factor:   DefaultFactor,
			Jitter:   DefaultJitter,
			Cap:      DefaultMaxDelay,
		},
	}
}

// Recover classifies err via the Recoverable hook and, when retryable, issues
// a fresh Schedule starting back at the initial delay. Schedule reuse across
// consecutive failures is the caller's concern.
func (e *Exponential) Recover(err error) (Schedule, error) {
	recoverable := e.Recoverable
	if recoverable == nil {
		recoverable = RecoverableStatus
	}
	if !recoverable(err) {
		return nil, err
	}

	b := e.Backoff
	if b.Duration <= 0 {
		b.Duration = DefaultInitialDelay
	}
	if b.Factor <= 0 {
		b.Factor = DefaultFactor
	}
	remaining := b.Steps
	if remaining <= 0 {
		remaining = -1
	}
	// wait.Backoff stops growing once its own step budget runs out; the
	// schedule tracks exhaustion itself, so the delay math never saturates
	// early.
	b.Steps = math.MaxInt32

	c := e.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	return &schedule{backoff: b, remaining: remaining, clock: c}, nil
}

// RecoverableStatus is the default Recoverable hook. Failures whose gRPC
// status marks the request itself as unacceptable are fatal; everything else,
// including transport resets and clean stream closes, may be retried.
func RecoverableStatus(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument,
		codes.FailedPrecondition,
		codes.PermissionDenied,
		codes.Unauthenticated:
		return false
	default:
		return true
	}
}

type schedule struct {
	backoff wait.Backoff
	// remaining counts ticks left to issue; negative means unlimited.
	remaining int
	clock     clock.Clock
}

func (s *schedule) Next(ctx context.Context) (bool, error) {
	if s.remaining == 0 {
		return false, nil
	}
	if s.remaining > 0 {
		s.remaining--
	}
	t := s.clock.NewTimer(s.backoff.Step())
	defer t.Stop()
	select {
	case <-t.C():
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
