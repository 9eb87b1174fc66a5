package web

import (
	"sync"
	"time"
)

// sweepAt is the number of tracked clients above which Allow drops idle entries.
const sweepAt = 1024

// RateLimiter restricts how often a browser client may post a form.
type RateLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
	rate time.Duration
	now  func() time.Time
}

// NewRateLimiter creates a limiter allowing one post per rate. A zero rate allows everything.
func NewRateLimiter(rate time.Duration) *RateLimiter {
	return &RateLimiter{last: make(map[string]time.Time), rate: rate, now: time.Now}
}

// Allow returns false if clientID hits the limit.
func (r *RateLimiter) Allow(clientID string) bool {
	if r.rate <= 0 || clientID == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if t, ok := r.last[clientID]; ok && now.Sub(t) < r.rate {
		return false
	}
	if len(r.last) >= sweepAt {
		for id, t := range r.last {
			if now.Sub(t) >= r.rate {
				delete(r.last, id)
			}
		}
	}
	r.last[clientID] = now
	return true
}
