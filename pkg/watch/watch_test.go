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

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func TestRecv_SeedValue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer tx.Close()
	defer rx.Close()

	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seed", got, "first Recv must yield the value the channel was created with")
}

func TestRecv_LatestValueWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel(0)
	defer tx.Close()
	defer rx.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, tx.Broadcast(i))
	}

	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got, "intermediate values must be collapsed to the latest")
}

func TestRecv_BlocksUntilBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer tx.Close()
	defer rx.Close()

	// Drain the seed so the next Recv has nothing to observe.
	_, err := rx.Recv(ctx)
	require.NoError(t, err)

	got := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		v, err := rx.Recv(ctx)
		errs <- err
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Recv returned before any broadcast")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Broadcast("update"))
	require.NoError(t, <-errs)
	assert.Equal(t, "update", <-got)
}

func TestRecv_ContextCanceled(t *testing.T) {
	tx, rx := NewChannel("seed")
	defer tx.Close()
	defer rx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err := rx.Recv(ctx)
	require.NoError(t, err)

	recvCtx, recvCancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := rx.Recv(recvCtx)
		errs <- err
	}()
	recvCancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testTimeout):
		t.Fatal("Recv did not unblock on context cancellation")
	}
}

func TestClone_StartsUnobserved(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer tx.Close()
	defer rx.Close()

	_, err := rx.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Broadcast("update"))
	_, err = rx.Recv(ctx)
	require.NoError(t, err)

	// The clone has observed nothing, so it sees the current value even
	// though the original receiver already consumed it.
	clone := rx.Clone()
	defer clone.Close()
	got, err := clone.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "update", got)
}

func TestClone_OfClosedReceiverPanics(t *testing.T) {
	tx, rx := NewChannel("seed")
	defer tx.Close()

	rx.Close()
	assert.Panics(t, func() { rx.Clone() })
}

func TestSenderClosed_FiresOnLastReceiver(t *testing.T) {
	tx, rx := NewChannel("seed")
	defer tx.Close()

	clone := rx.Clone()

	rx.Close()
	select {
	case <-tx.Closed():
		t.Fatal("Closed fired while a clone was still live")
	default:
	}

	clone.Close()
	select {
	case <-tx.Closed():
	case <-time.After(testTimeout):
		t.Fatal("Closed did not fire after the last receiver closed")
	}

	assert.ErrorIs(t, tx.Broadcast("update"), ErrNoReceivers)
}

func TestReceiverClose_Idempotent(t *testing.T) {
	tx, rx := NewChannel("seed")
	defer tx.Close()

	clone := rx.Clone()
	rx.Close()
	rx.Close()

	// The double close must not have consumed the clone's liveness.
	select {
	case <-tx.Closed():
		t.Fatal("Closed fired while a clone was still live")
	default:
	}
	clone.Close()

	_, err := rx.Recv(context.Background())
	assert.ErrorIs(t, err, ErrReceiverClosed)
}

func TestSenderClose_DrainsFinalValue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer rx.Close()

	require.NoError(t, tx.Broadcast("final"))
	tx.Close()

	// The unobserved final value is delivered before the closed signal.
	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "final", got)

	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, ErrSenderClosed)
}

func TestSenderClose_UnblocksReceivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer rx.Close()

	_, err := rx.Recv(ctx)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := rx.Recv(ctx)
		errs <- err
	}()

	tx.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSenderClosed)
	case <-time.After(testTimeout):
		t.Fatal("Recv did not unblock on sender close")
	}
}

func TestCurrent_DoesNotConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	tx, rx := NewChannel("seed")
	defer tx.Close()
	defer rx.Close()

	assert.Equal(t, "seed", rx.Current())

	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seed", got, "Current must not mark the value as observed")
}
