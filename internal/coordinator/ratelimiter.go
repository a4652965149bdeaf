package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/apperr"
)

// tokenBucket is a simple token-bucket rate limiter: it refills at a fixed
// rate up to a capacity and blocks Take() until a token is available or
// the context is done. Modeled as a generic broker pacing rule (spec.md §9
// Open Questions: "the upstream's exact pacing rules ... must be confirmed
// against the broker's documentation" — this repo picks a conservative
// default rather than hard-coding one broker's published limits).
type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	capacity     float64
	refillPerSec float64
	last         time.Time
}

func newTokenBucket(capacity int, window time.Duration) *tokenBucket {
	return &tokenBucket{
		tokens:       float64(capacity),
		capacity:     float64(capacity),
		refillPerSec: float64(capacity) / window.Seconds(),
		last:         time.Now(),
	}
}

func (b *tokenBucket) Take(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.refillPerSec * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperr.Wrap(apperr.KindTimeout, "coordinator: rate limiter wait exceeded deadline", ctx.Err())
		}
	}
}

func (b *tokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillPerSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}
