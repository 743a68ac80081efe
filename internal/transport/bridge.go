// Package transport implements reconcile.Transport as a queue drained by an
// external bridge process. The bridge polls for issued requests, performs
// them against the storage middleware and posts outcomes and entity-change
// notifications back.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"nithronos/nosvol/internal/reconcile"
)

var (
	ErrQueueFull     = errors.New("bridge request queue full")
	ErrClosed        = errors.New("bridge closed")
	ErrUnknownMethod = errors.New("unknown method")
	ErrUnknownMask   = errors.New("unknown notification mask")
	ErrBadOutcome    = errors.New("invalid outcome")
	ErrUnknownID     = errors.New("request not in flight")
	ErrBadResult     = errors.New("undecodable result")
)

// Request is an issued call waiting for the bridge.
type Request struct {
	ID       string          `json:"id"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
	IssuedAt time.Time       `json:"issuedAt"`
}

var knownMethods = map[string]bool{
	reconcile.MethodQuery:          true,
	reconcile.MethodAvailableDisks: true,
	reconcile.MethodCreate:         true,
	reconcile.MethodDestroy:        true,
}

type Bridge struct {
	logger zerolog.Logger
	max    int

	mu       sync.Mutex
	queue    []Request
	inflight map[string]Request
	wake     chan struct{}
	closed   bool
}

var _ reconcile.Transport = (*Bridge)(nil)

// NewBridge returns a bridge holding at most max unclaimed requests.
func NewBridge(logger zerolog.Logger, max int) *Bridge {
	if max <= 0 {
		max = 256
	}
	return &Bridge{
		logger:   logger.With().Str("component", "bridge").Logger(),
		max:      max,
		inflight: map[string]Request{},
		wake:     make(chan struct{}),
	}
}

// Request queues a call and returns its correlation id.
func (b *Bridge) Request(_ context.Context, method string, args any) (string, error) {
	if !knownMethods[method] {
		return "", fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	var raw json.RawMessage
	if args != nil {
		enc, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("encode %s args: %w", method, err)
		}
		raw = enc
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	if len(b.queue) >= b.max {
		return "", ErrQueueFull
	}
	r := Request{ID: uuid.NewString(), Method: method, Args: raw, IssuedAt: time.Now().UTC()}
	b.queue = append(b.queue, r)
	b.inflight[r.ID] = r
	close(b.wake)
	b.wake = make(chan struct{})
	return r.ID, nil
}

// Take hands queued requests to the bridge, waiting up to wait for one to
// arrive when the queue is empty. Taken requests stay in flight until
// resolved or expired.
func (b *Bridge) Take(ctx context.Context, wait time.Duration) []Request {
	b.mu.Lock()
	if len(b.queue) == 0 && wait > 0 && !b.closed {
		wake := b.wake
		b.mu.Unlock()
		t := time.NewTimer(wait)
		select {
		case <-wake:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
		b.mu.Lock()
	}
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	if out == nil {
		out = []Request{}
	}
	return out
}

// Depth reports the queued and in-flight request counts.
func (b *Bridge) Depth() (queued, inflight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue), len(b.inflight)
}

// Resolution is an outcome posted by the bridge.
type Resolution struct {
	ID      string            `json:"correlationId"`
	Outcome reconcile.Outcome `json:"outcome"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Resolve turns an outcome into the matching controller event. A request
// resolved twice, or after it expired, yields ErrUnknownID. Data that does
// not fit the method yields ErrBadResult.
func (b *Bridge) Resolve(r Resolution) (reconcile.Event, error) {
	if !r.Outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrBadOutcome, r.Outcome)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.inflight[r.ID]
	if !ok {
		b.logger.Warn().Str("correlation", r.ID).Msg("resolution for unknown request")
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, r.ID)
	}
	// A result that does not decode leaves the request in flight so it can be
	// resolved again or expire.
	ev, err := decodeResolution(req.Method, r)
	if err != nil {
		b.logger.Warn().Err(err).Str("correlation", r.ID).Str("method", req.Method).Msg("resolution rejected")
		return nil, err
	}
	delete(b.inflight, r.ID)
	b.dequeue(r.ID)
	return ev, nil
}

func (b *Bridge) dequeue(id string) {
	for i, q := range b.queue {
		if q.ID == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

// Expire times out requests issued before cutoff and returns the timeout
// events for them, oldest first.
func (b *Bridge) Expire(cutoff time.Time) []reconcile.Event {
	b.mu.Lock()
	var stale []Request
	for id, r := range b.inflight {
		if r.IssuedAt.Before(cutoff) {
			stale = append(stale, r)
			delete(b.inflight, id)
			b.dequeue(id)
		}
	}
	b.mu.Unlock()
	sort.Slice(stale, func(i, j int) bool { return stale[i].IssuedAt.Before(stale[j].IssuedAt) })
	out := make([]reconcile.Event, 0, len(stale))
	for _, r := range stale {
		ev, err := decodeResolution(r.Method, Resolution{ID: r.ID, Outcome: reconcile.OutcomeTimeout})
		if err != nil {
			continue
		}
		b.logger.Warn().Str("correlation", r.ID).Str("method", r.Method).Msg("request timed out")
		out = append(out, ev)
	}
	return out
}

// Close rejects further requests and releases waiting pollers.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}
