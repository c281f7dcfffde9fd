package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// inflightLimiter bounds concurrently running request handlers. A nil
// channel (from newInflightLimiter(0)) imposes no limit.
type inflightLimiter struct {
	ch chan struct{}
}

func newInflightLimiter(max int) *inflightLimiter {
	if max <= 0 {
		return &inflightLimiter{}
	}
	return &inflightLimiter{ch: make(chan struct{}, max)}
}

// acquire blocks until a slot is free or ctx is done.
func (l *inflightLimiter) acquire(ctx context.Context) error {
	if l.ch == nil {
		return ctx.Err()
	}
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *inflightLimiter) release() {
	if l.ch == nil {
		return
	}
	<-l.ch
}

type slotKey struct{}

// requestSlot is the inflight slot of one request. It is freed once.
type requestSlot struct {
	release func()
	once    sync.Once
	held    atomic.Bool
}

func (s *requestSlot) free() { s.once.Do(s.release) }

// WithSlot attaches an inflight slot to ctx for one request. Call finish
// after the request handler returns: it frees the slot through release
// unless the handler kept it with HoldSlot.
func WithSlot(ctx context.Context, release func()) (slotCtx context.Context, finish func()) {
	s := &requestSlot{release: release}
	return context.WithValue(ctx, slotKey{}, s), func() {
		if !s.held.Load() {
			s.free()
		}
	}
}

// HoldSlot keeps the inflight slot of the request served under ctx
// occupied after its handler returns, for work that is still running. The
// returned function frees the slot and must be called once that work has
// stopped. Without a slot in ctx it returns a no-op.
func HoldSlot(ctx context.Context) func() {
	s, ok := ctx.Value(slotKey{}).(*requestSlot)
	if !ok {
		return func() {}
	}
	s.held.Store(true)
	return s.free
}
