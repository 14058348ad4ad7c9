package basenode

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds how long a tracked request waits for its
// response before the waiter is abandoned.
const DefaultRequestTimeout = 30 * time.Second

var (
	// ErrRequestTimeout is returned when no response with a matching key
	// arrives before the deadline.
	ErrRequestTimeout = errors.New("base node request timed out")

	// ErrTrackerClosed is returned for requests issued after Close.
	ErrTrackerClosed = errors.New("request tracker closed")
)

// RequestTracker correlates outbound service requests with their responses
// through the request key. Keys are drawn at random so concurrent requests
// from one node never collide, and the responder echoes them unchanged.
type RequestTracker struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[uint64]chan []byte
	closed  bool
}

// NewRequestTracker creates a tracker. A zero timeout selects
// DefaultRequestTimeout.
func NewRequestTracker(timeout time.Duration) *RequestTracker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &RequestTracker{
		timeout: timeout,
		pending: make(map[uint64]chan []byte),
	}
}

// Track assigns a fresh key to req, registers a waiter for it, and returns
// the encoded request ready to be sent. The caller follows up with Await.
func (t *RequestTracker) Track(req Request) (uint64, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, nil, ErrTrackerClosed
	}

	key, err := t.freshKeyLocked()
	if err != nil {
		return 0, nil, err
	}

	wire, err := Marshal(ServiceRequest{RequestKey: key, Request: req})
	if err != nil {
		return 0, nil, err
	}

	t.pending[key] = make(chan []byte, 1)
	return key, wire, nil
}

// Await blocks until the response for key arrives, the timeout elapses, or
// ctx is cancelled. The waiter is always deregistered on return.
func (t *RequestTracker) Await(ctx context.Context, key uint64) ([]byte, error) {
	t.mu.Lock()
	ch, ok := t.pending[key]
	t.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown request key")
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	defer t.drop(key)

	select {
	case body, ok := <-ch:
		if !ok {
			return nil, ErrTrackerClosed
		}
		return body, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers a response body to the waiter registered for key. A
// response with no pending waiter, late, duplicated, or unsolicited, reports
// false and is otherwise ignored. The waiter itself deregisters the key.
func (t *RequestTracker) Resolve(key uint64, body []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[key]
	if !ok {
		return false
	}
	select {
	case ch <- append([]byte(nil), body...):
		return true
	default:
		return false
	}
}

// Pending reports the number of requests still awaiting responses.
func (t *RequestTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close fails all outstanding waiters and rejects further requests.
func (t *RequestTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for key, ch := range t.pending {
		close(ch)
		delete(t.pending, key)
	}
}

func (t *RequestTracker) drop(key uint64) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
}

// freshKeyLocked draws a random key not currently in flight.
func (t *RequestTracker) freshKeyLocked() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		key := binary.BigEndian.Uint64(buf[:])
		if _, taken := t.pending[key]; !taken {
			return key, nil
		}
	}
}
