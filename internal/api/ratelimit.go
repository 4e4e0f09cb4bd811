package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyLimiter applies a per-key token bucket: n requests per interval,
// with bursts up to n. Keys are API keys, falling back to remote
// addresses for unauthenticated requests.
type keyLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newKeyLimiter(n int, interval time.Duration) *keyLimiter {
	return &keyLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Every(interval / time.Duration(n)),
		burst:   n,
	}
}

// Allow reports whether the key may proceed.
func (l *keyLimiter) Allow(key string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}
