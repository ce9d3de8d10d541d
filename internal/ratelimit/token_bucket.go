// Package ratelimit provides a per-client token bucket for the HTTP API.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket keeps one rate.Limiter per client key. Buckets idle past the
// ttl are dropped on the next sweep so the map cannot grow without bound.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	ttl     time.Duration
	swept   time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewTokenBucket constructs a limiter with the provided refill rate and
// burst capacity.
func NewTokenBucket(refillPerSecond float64, burst int, ttl time.Duration) *TokenBucket {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenBucket{
		buckets: map[string]*bucket{},
		rps:     rate.Limit(refillPerSecond),
		burst:   burst,
		ttl:     ttl,
		swept:   time.Now(),
	}
}

// Allow consumes a single token for the given key if one is available.
func (b *TokenBucket) Allow(key string) bool {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.swept) > b.ttl {
		for k, v := range b.buckets {
			if now.Sub(v.seen) > b.ttl {
				delete(b.buckets, k)
			}
		}
		b.swept = now
	}

	entry, ok := b.buckets[key]
	if !ok {
		entry = &bucket{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.buckets[key] = entry
	}
	entry.seen = now
	return entry.limiter.Allow()
}
