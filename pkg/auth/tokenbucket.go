package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PrincipalLimiter enforces a per-principal token bucket over execution
// submissions. Unlike InProcessLimiter's fixed per-minute window, this
// allows short bursts up to the bucket capacity while maintaining a
// steady refill rate, matching the broker's "burst of N, refill M/min"
// execution quota rather than a transport-tier request quota.
type PrincipalLimiter struct {
	capacity int
	refill   float64 // tokens per minute

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewPrincipalLimiter creates a token-bucket limiter with the given
// burst capacity and per-minute refill rate, shared across all principals
// but tracked independently per principal ID.
func NewPrincipalLimiter(capacity int, refillPerMin float64) *PrincipalLimiter {
	return &PrincipalLimiter{
		capacity: capacity,
		refill:   refillPerMin,
		buckets:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether principalID may submit an execution now, consuming
// a token if so. Returns false when the bucket is empty.
func (l *PrincipalLimiter) Allow(principalID string) bool {
	return l.bucketFor(principalID).Allow()
}

// Reserve consumes a token if available, or reports the duration the
// caller would need to wait for one. Callers that want to reject rather
// than wait should use Allow instead.
func (l *PrincipalLimiter) Reserve(principalID string) (ok bool, retryAfter time.Duration) {
	r := l.bucketFor(principalID).Reserve()
	if !r.OK() {
		return false, 0
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *PrincipalLimiter) bucketFor(principalID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[principalID]
	if !ok {
		perSecond := l.refill / 60
		b = rate.NewLimiter(rate.Limit(perSecond), l.capacity)
		l.buckets[principalID] = b
	}
	return b
}

// Remove discards the bucket for a principal, e.g. on session termination,
// so idle principals don't accumulate unbounded map entries.
func (l *PrincipalLimiter) Remove(principalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, principalID)
}
