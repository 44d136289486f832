// Package ratelimit provides the blocking token bucket used for hatch pacing
// and the optional global RPS ceiling.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a token bucket refilled at a fixed per-second rate. Steady-state
// capacity is one second of tokens; at construction the bucket holds a single
// token, so the first Acquire returns immediately and the rest pace out.
//
// A zero or negative rate disables the bucket: Acquire returns immediately.
// A nil *Bucket behaves the same, so callers can hold one unconditionally.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a bucket refilling at perSecond tokens per second.
func NewBucket(perSecond float64) *Bucket {
	if perSecond <= 0 {
		return &Bucket{}
	}
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(perSecond), burst)
	if burst > 1 {
		// Drain the initial fill down to one token.
		l.AllowN(time.Now(), burst-1)
	}
	return &Bucket{limiter: l}
}

// Acquire blocks until one token is available or ctx is done.
func (b *Bucket) Acquire(ctx context.Context) error {
	if b == nil || b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// Rate returns the configured refill rate, 0 when disabled.
func (b *Bucket) Rate() float64 {
	if b == nil || b.limiter == nil {
		return 0
	}
	return float64(b.limiter.Limit())
}
