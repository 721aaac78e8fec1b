// Package ratelimit throttles outbound API requests with a token bucket.
//
// A publish run can issue thousands of PutObject calls in a few seconds.
// Buckets with request-rate alarms, or S3-compatible stores with low
// limits, need those calls spread out. The limiter is shared by every
// upload worker so the configured rate is a process-wide ceiling, not a
// per-worker one.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/sitepublish/internal/xerrors"
)

// Limiter gates requests to a steady rate with a burst allowance. A nil
// *Limiter, or one built with a non-positive rate, never blocks.
type Limiter struct {
	limiter *rate.Limiter

	// OnThrottled is called after a Wait that had to block, with the time spent waiting.
	// used for prometheus counters and debug logging
	OnThrottled func(waited time.Duration)
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size.
// WithRate(10, 20) allows 20 requests at once, then 10 per second.
// A non-positive perSecond disables limiting.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		if perSecond <= 0 {
			l.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithOnThrottled sets a callback invoked whenever a caller had to wait for a token
func WithOnThrottled(fn func(waited time.Duration)) Option {
	return func(l *Limiter) {
		l.OnThrottled = fn
	}
}

// New creates a Limiter. With no options it is unlimited.
func New(opts ...Option) *Limiter {
	l := &Limiter{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Enabled reports whether Wait can ever block
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return ctx.Err()
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return xerrors.Wrap(err, "wait for request token")
	}
	// rate.Limiter does not report whether it slept; anything above a
	// millisecond is a real wait rather than scheduling noise
	if waited := time.Since(start); waited > time.Millisecond && l.OnThrottled != nil {
		l.OnThrottled(waited)
	}
	return nil
}
