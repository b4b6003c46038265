package util

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle paces rewriter invocations during execute. The nil *Throttle
// is unthrottled.
type Throttle struct {
	bucket *rate.Limiter
	waited atomic.Int64
}

// NewThrottle allows perSecond rewrites with bursts of burst. A
// non-positive rate disables throttling and returns nil.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	return &Throttle{bucket: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// TryAcquire takes a slot only if one is free right now.
func (t *Throttle) TryAcquire() bool {
	return t == nil || t.bucket.Allow()
}

// Acquire blocks until the next rewrite may start and reports how long it
// waited.
func (t *Throttle) Acquire(ctx context.Context) (time.Duration, error) {
	if t == nil {
		return 0, ctx.Err()
	}
	start := time.Now()
	if err := t.bucket.Wait(ctx); err != nil {
		return 0, err
	}
	d := time.Since(start)
	t.waited.Add(int64(d))
	return d, nil
}

// Waited is the total time rewrites spent held back.
func (t *Throttle) Waited() time.Duration {
	if t == nil {
		return 0
	}
	return time.Duration(t.waited.Load())
}
