package vpn

import (
	"context"
	"time"
)

// ReloadLatch is the process-wide re-validation trigger. Set is safe to
// call concurrently with a monitoring wait; a successful Wait consumes the
// trigger exactly once, so a single request never fires twice.
type ReloadLatch struct {
	ch chan struct{}
}

// NewReloadLatch creates a cleared latch.
func NewReloadLatch() *ReloadLatch {
	return &ReloadLatch{ch: make(chan struct{}, 1)}
}

// Set requests a reload. Idempotent while a request is already pending.
func (l *ReloadLatch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Clear drops a pending request, if any.
func (l *ReloadLatch) Clear() {
	select {
	case <-l.ch:
	default:
	}
}

// Requests exposes the request channel for callers that need to combine
// the wait with other channels in one select. Receiving consumes one
// request, exactly like a successful Wait.
func (l *ReloadLatch) Requests() <-chan struct{} {
	return l.ch
}

// Pending reports whether a request is waiting without consuming it.
func (l *ReloadLatch) Pending() bool {
	return len(l.ch) > 0
}

// Wait blocks until a reload request arrives (consuming it and returning
// true), the timeout elapses, or ctx is cancelled (both returning false).
func (l *ReloadLatch) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
