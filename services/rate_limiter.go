package services

import (
	"fmt"
	"sync"
	"time"
)

// Rate limit buckets. The limiter is purely an admission gate in front of
// the endpoints; it never touches referral state.
const (
	RateBucketRegister = "register"
	RateBucketActivate = "activate"
)

// RateLimiter is a keyed sliding-window counter: at most Limit requests per
// Window per (client IP, bucket) pair. Enforcement is approximate by design;
// it is abuse mitigation, not a security boundary.
type RateLimiter struct {
	Limit  int
	Window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		Limit:  limit,
		Window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records the request unless the window is already full. When denied
// it returns how long the caller should wait before retrying.
func (l *RateLimiter) Allow(clientIP, bucket string) (bool, time.Duration) {
	key := fmt.Sprintf("%s:%s", bucket, clientIP)
	now := l.now()
	cutoff := now.Add(-l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := l.hits[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.Limit {
		l.hits[key] = kept
		retryAfter := kept[0].Add(l.Window).Sub(now)
		return false, retryAfter
	}

	l.hits[key] = append(kept, now)
	return true, 0
}
