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

// Package strategy keeps a per-destination routing strategy fresh for many
// readers. A watch opens a server-streaming call against the control plane,
// republishes every response on a last-value-wins channel, and rides out
// stream failures with a backoff-driven recovery loop. The watch's daemon
// stops only when every reader is gone or the backoff policy gives up.
package strategy

import (
	"context"
	"errors"
	"io"
	"net/netip"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/kailun-qin/linkerd2-proxy/api/destination"
	logutil "github.com/kailun-qin/linkerd2-proxy/internal/logging"
	"github.com/kailun-qin/linkerd2-proxy/pkg/backoff"
	"github.com/kailun-qin/linkerd2-proxy/pkg/metrics"
	"github.com/kailun-qin/linkerd2-proxy/pkg/watch"
)

// DestinationClient opens strategy watches against the control plane.
type DestinationClient interface {
	// Strategy starts a server-streaming call for the requested target. The
	// returned stream is torn down when ctx is canceled.
	Strategy(ctx context.Context, req *destination.StrategyRequest) (StrategyStream, error)
}

// StrategyStream yields decoded responses from one strategy call. Recv
// returns io.EOF once the server closes the stream cleanly.
type StrategyStream interface {
	Recv() (*destination.StrategyResponse, error)
}

var (
	// errServerClosed stands in for a stream the server ended without a
	// failure. Recovery handles it exactly like a transport error.
	errServerClosed = errors.New("strategy: server closed stream")

	// errWatchClosed marks recovery abandoned because every reader closed
	// its handle; the daemon exits cleanly on it.
	errWatchClosed = errors.New("strategy: watch closed by readers")
)

// Client watches per-destination routing strategies.
type Client struct {
	client       DestinationClient
	policy       backoff.Policy
	contextToken string
}

// New returns a watch client. A nil policy applies backoff defaults. The
// context token is an opaque value echoed to the control plane on every
// request.
func New(client DestinationClient, policy backoff.Policy, contextToken string) *Client {
	if policy == nil {
		policy = backoff.DefaultExponential()
	}
	return &Client{client: client, policy: policy, contextToken: contextToken}
}

// Watch opens a strategy watch for addr and returns the reader side of its
// broadcast channel, already seeded with the first snapshot. The initial
// response is fetched, with recovery, before Watch returns; a failure the
// policy refuses to retry, or an exhausted retry schedule, fails the Watch
// and spawns nothing.
//
// ctx bounds only the initial fetch. Once Watch returns, a background daemon
// owns the stream, and its sole shutdown signal is the last reader being
// closed. Readers observe snapshots in publish order, collapsed to the
// latest value; a terminated daemon is never restarted.
func (c *Client) Watch(ctx context.Context, addr netip.AddrPort) (*watch.Receiver[Strategy], error) {
	req := &destination.StrategyRequest{
		Target:       &destination.TCPAddress{IP: addr.Addr().String(), Port: uint32(addr.Port())},
		ContextToken: c.contextToken,
	}

	// The watch context outlives the caller's: it tears down streams when
	// the daemon exits, not when the caller moves on. Caller cancellation is
	// honored only until the initial fetch completes.
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	detach := context.AfterFunc(ctx, cancel)

	logger := log.FromContext(ctx).WithValues("addr", addr)
	snap, stream, err := c.init(watchCtx, addr, req)
	if err != nil {
		logger.V(logutil.DEFAULT).Info("Initial strategy fetch failed; recovering", "error", err)
		snap, stream, err = c.recoverLoop(watchCtx, nil, logger, addr, req, err)
		if err != nil {
			detach()
			cancel()
			return nil, err
		}
	}
	detach()

	tx, rx := watch.NewChannel(snap)
	go c.daemon(watchCtx, cancel, logger, addr, req, tx, stream)
	return rx, nil
}

// init opens a stream and reads exactly one response. A stream that closes
// before yielding any response reports errServerClosed.
func (c *Client) init(ctx context.Context, addr netip.AddrPort, req *destination.StrategyRequest) (Strategy, StrategyStream, error) {
	stream, err := c.client.Strategy(ctx, req)
	if err != nil {
		return Strategy{}, nil, err
	}
	res, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Strategy{}, nil, errServerClosed
		}
		return Strategy{}, nil, err
	}
	return newStrategy(addr, res), stream, nil
}

// daemon owns the writer side of the watch channel and the live stream. It
// alternates between relaying responses and recovering the stream until all
// readers drop or recovery fails for good.
func (c *Client) daemon(ctx context.Context, cancel context.CancelFunc, logger logr.Logger, addr netip.AddrPort, req *destination.StrategyRequest, tx *watch.Sender[Strategy], stream StrategyStream) {
	// Canceling the watch context stops the stream reader pump along with
	// any stream still open on the wire.
	defer cancel()
	defer tx.Close()

	metrics.RecordWatchStarted()
	logger.V(logutil.VERBOSE).Info("Strategy watch started")

	recvs := pump(ctx, stream)
	for {
		err := c.relay(logger, addr, tx, recvs)
		if err == nil {
			logger.V(logutil.VERBOSE).Info("All watch readers closed; stopping")
			metrics.RecordWatchTermination(addr.String(), metrics.TerminationReasonComplete)
			return
		}

		logger.V(logutil.DEFAULT).Info("Strategy stream interrupted; recovering", "error", err)
		var snap Strategy
		snap, stream, err = c.recoverLoop(ctx, tx.Closed(), logger, addr, req, err)
		if err != nil {
			if errors.Is(err, errWatchClosed) {
				logger.V(logutil.VERBOSE).Info("All watch readers closed during recovery; stopping")
				metrics.RecordWatchTermination(addr.String(), metrics.TerminationReasonComplete)
				return
			}
			reason := metrics.TerminationReasonNonRecoverable
			if errors.Is(err, backoff.ErrExhausted) {
				reason = metrics.TerminationReasonBackoffExhausted
			}
			logger.Error(err, "Strategy watch failed; giving up")
			metrics.RecordWatchTermination(addr.String(), reason)
			return
		}

		// Republish the reconnect snapshot before relaying the new stream.
		// A publish failure only means no readers remain; the next relay
		// poll observes that and stops.
		if err := tx.Broadcast(snap); err == nil {
			metrics.RecordSnapshotPublished(addr.String())
		}
		recvs = pump(ctx, stream)
	}
}

// relay republishes stream responses until the stream fails, returned as an
// error, or every reader drops, returned as nil. The reader-drop signal is
// polled before each blocking wait so that it wins whenever both conditions
// are ready at once.
func (c *Client) relay(logger logr.Logger, addr netip.AddrPort, tx *watch.Sender[Strategy], recvs <-chan recvResult) error {
	closed := tx.Closed()
	for {
		select {
		case <-closed:
			return nil
		default:
		}
		select {
		case <-closed:
			return nil
		case r := <-recvs:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return errServerClosed
				}
				return r.err
			}
			if err := tx.Broadcast(newStrategy(addr, r.res)); err == nil {
				metrics.RecordSnapshotPublished(addr.String())
				logger.V(logutil.TRACE).Info("Republished strategy snapshot")
			}
		}
	}
}

// recoverLoop turns a stream failure into a fresh snapshot and stream, or a
// fatal error. The schedule obtained for the initiating failure is reused
// across consecutive failed attempts, preserving delay growth; each new
// failure is still re-validated against the policy, which may declare it
// non-recoverable and end recovery early. A nil closed channel disables the
// reader-drop race during the initial connect.
func (c *Client) recoverLoop(ctx context.Context, closed <-chan struct{}, logger logr.Logger, addr netip.AddrPort, req *destination.StrategyRequest, cause error) (Strategy, StrategyStream, error) {
	schedule, err := c.policy.Recover(cause)
	if err != nil {
		return Strategy{}, nil, err
	}

	for {
		if closed != nil {
			select {
			case <-closed:
				return Strategy{}, nil, errWatchClosed
			default:
			}
		}

		ok, err := c.tick(ctx, closed, schedule)
		if err != nil {
			return Strategy{}, nil, err
		}
		if !ok {
			return Strategy{}, nil, backoff.ErrExhausted
		}

		metrics.RecordReconnect(addr.String())
		snap, stream, err := c.init(ctx, addr, req)
		if err == nil {
			logger.V(logutil.VERBOSE).Info("Strategy stream recovered")
			return snap, stream, nil
		}
		// Keep consuming the existing schedule; a fresh one would reset
		// delay growth on every failed attempt.
		if _, recErr := c.policy.Recover(err); recErr != nil {
			return Strategy{}, nil, recErr
		}
		logger.V(logutil.DEBUG).Info("Reconnect failed; backing off", "error", err)
	}
}

// tick waits for the next backoff tick, racing it against the reader-drop
// signal when one is supplied. A reader drop surfaces as errWatchClosed.
func (c *Client) tick(ctx context.Context, closed <-chan struct{}, schedule backoff.Schedule) (bool, error) {
	if closed == nil {
		return schedule.Next(ctx)
	}
	ticks := make(chan tickResult, 1)
	go func() {
		ok, err := schedule.Next(ctx)
		ticks <- tickResult{ok: ok, err: err}
	}()
	select {
	case <-closed:
		return false, errWatchClosed
	case t := <-ticks:
		return t.ok, t.err
	}
}

type tickResult struct {
	ok  bool
	err error
}

type recvResult struct {
	res *destination.StrategyResponse
	err error
}

// pump reads stream on a dedicated goroutine so the daemon can race
// responses against its shutdown signal. The goroutine exits on the first
// stream error or once ctx tears the watch down.
func pump(ctx context.Context, stream StrategyStream) <-chan recvResult {
	out := make(chan recvResult)
	go func() {
		for {
			res, err := stream.Recv()
			select {
			case out <- recvResult{res: res, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
