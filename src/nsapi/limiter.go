package nsapi

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces all outbound PBX calls process-wide. A single instance is
// constructed at startup and injected into every client; callers queue FIFO
// by reservation time, at most maxRate grants per second.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a limiter allowing maxRate acquisitions per second.
// maxRate <= 0 disables pacing entirely.
func NewLimiter(maxRate float64) *Limiter {
	if maxRate <= 0 {
		return &Limiter{}
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(maxRate), 1)}
}

// Wait blocks until the caller may proceed. The slot reservation is
// serialized internally; the wait itself does not hold the lock, so
// concurrent callers are served in reservation order.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}
