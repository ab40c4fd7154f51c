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

// Package watch provides a single-writer, multi-reader channel that retains
// only the most recently broadcast value.
//
// Unlike a regular Go channel there is no backlog: a receiver that reads less
// often than the sender writes observes only the latest value. Every receiver
// is guaranteed to observe the value present when it was created, and the
// sender is notified once all receivers have been closed, which is the only
// shutdown signal the channel emits.
package watch

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoReceivers is returned by Broadcast once every receiver has been
	// closed. The value is still stored; senders typically treat this as a
	// hint to shut down rather than as a failure.
	ErrNoReceivers = errors.New("watch: all receivers closed")

	// ErrSenderClosed is returned by Recv after the sender has been closed and
	// the receiver has already observed the final value.
	ErrSenderClosed = errors.New("watch: sender closed")

	// ErrReceiverClosed is returned by Recv on a receiver that has itself been
	// closed.
	ErrReceiverClosed = errors.New("watch: receiver closed")
)

// shared is the state common to the sender and all receivers.
type shared[T any] struct {
	mu sync.Mutex
	// value is the slot holding the latest broadcast value.
	value T
	// version increments on every broadcast. It starts at 1 so a fresh
	// receiver (seen == 0) always observes the seed value.
	version uint64
	// notify is closed and replaced whenever value or senderClosed changes.
	notify chan struct{}
	// receivers counts live receivers. It can only reach zero once: new
	// receivers are minted by cloning a live one.
	receivers    int
	senderClosed bool
	// closed is closed when receivers drops to zero.
	closed chan struct{}
}

// Sender is the writer side of the channel.
type Sender[T any] struct {
	s *shared[T]
}

// Receiver is one reader of the channel, intended for a single consumer.
// Receivers must be closed when no longer needed; the last close is what
// signals the sender.
type Receiver[T any] struct {
	s *shared[T]
	// seen and done are guarded by s.mu.
	seen uint64
	done bool
}

// NewChannel creates a channel seeded with initial and returns the sole sender
// together with the first receiver.
func NewChannel[T any](initial T) (*Sender[T], *Receiver[T]) {
	s := &shared[T]{
		value:     initial,
		version:   1,
		notify:    make(chan struct{}),
		receivers: 1,
		closed:    make(chan struct{}),
	}
	return &Sender[T]{s: s}, &Receiver[T]{s: s}
}

// Broadcast replaces the channel's value and wakes every waiting receiver.
// The previous value is discarded whether or not anyone observed it.
func (tx *Sender[T]) Broadcast(v T) error {
	s := tx.s
	s.mu.Lock()
	s.value = v
	s.version++
	close(s.notify)
	s.notify = make(chan struct{})
	orphaned := s.receivers == 0
	s.mu.Unlock()
	if orphaned {
		return ErrNoReceivers
	}
	return nil
}

// Closed returns a channel that is closed once every receiver has been
// closed. It never fires while any receiver is live.
func (tx *Sender[T]) Closed() <-chan struct{} {
	return tx.s.closed
}

// Close drops the writer. Receivers that have already observed the final
// value unblock with ErrSenderClosed; an unobserved final value is still
// delivered first. Close is idempotent.
func (tx *Sender[T]) Close() {
	s := tx.s
	s.mu.Lock()
	if !s.senderClosed {
		s.senderClosed = true
		close(s.notify)
		s.notify = make(chan struct{})
	}
	s.mu.Unlock()
}

// Recv returns the latest value not yet observed by this receiver, blocking
// until one is broadcast, the sender is closed, or ctx is done. Values
// broadcast between calls are collapsed to the most recent one.
func (rx *Receiver[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	s := rx.s
	s.mu.Lock()
	for {
		if rx.done {
			s.mu.Unlock()
			return zero, ErrReceiverClosed
		}
		if s.version > rx.seen {
			rx.seen = s.version
			v := s.value
			s.mu.Unlock()
			return v, nil
		}
		if s.senderClosed {
			s.mu.Unlock()
			return zero, ErrSenderClosed
		}
		notify := s.notify
		s.mu.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		s.mu.Lock()
	}
}

// Current returns the latest value without consuming it: a subsequent Recv
// still observes that value if this receiver has not yet received it.
func (rx *Receiver[T]) Current() T {
	rx.s.mu.Lock()
	defer rx.s.mu.Unlock()
	return rx.s.value
}

// Clone registers a new receiver. The clone counts toward channel liveness
// and starts unobserved, so its first Recv yields the current value.
// Clone panics if called on a closed receiver, since receiver liveness could
// otherwise resurrect a channel whose sender already observed shutdown.
func (rx *Receiver[T]) Clone() *Receiver[T] {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if rx.done {
		panic("watch: Clone called on a closed Receiver")
	}
	s.receivers++
	return &Receiver[T]{s: s}
}

// Close releases this receiver. Closing the last live receiver fires the
// sender's Closed signal. Close is idempotent and safe to call concurrently
// with Recv; a blocked Recv is not interrupted (use the Recv context for
// that), but any later Recv returns ErrReceiverClosed.
func (rx *Receiver[T]) Close() {
	s := rx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if rx.done {
		return
	}
	rx.done = true
	s.receivers--
	if s.receivers == 0 {
		close(s.closed)
	}
}
