package auth

import (
	"fmt"
	"sync"
	"time"
)

// LimitError is returned by CheckLimit when a key is over its limit
type LimitError struct {
	// RetryAfter is the time until the oldest attempt in the window expires
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many attempts, try again in %v", e.RetryAfter.Round(time.Second))
}

// RateLimiter implements sliding-window rate limiting for authentication endpoints.
// Keys are usually client IPs. A background goroutine drops idle keys.
type RateLimiter struct {
	mu         sync.Mutex
	attempts   map[string][]time.Time
	maxEntries int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter that sweeps keys idle for longer than
// maxAge every cleanupInterval and tracks at most maxEntries keys.
func NewRateLimiter(cleanupInterval, maxAge time.Duration, maxEntries int) *RateLimiter {
	rl := &RateLimiter{
		attempts:   make(map[string][]time.Time),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go rl.sweep(cleanupInterval, maxAge)
	return rl
}

func (rl *RateLimiter) sweep(interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.Cleanup(maxAge)
		}
	}
}

// Stop halts the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

// CheckLimit records an attempt for key and returns a *LimitError when the
// key already made maxAttempts attempts within window.
func (rl *RateLimiter) CheckLimit(key string, maxAttempts int, window time.Duration) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	attempts, tracked := rl.attempts[key]

	// Filter to attempts within window
	var recent []time.Time
	for _, t := range attempts {
		if now.Sub(t) < window {
			recent = append(recent, t)
		}
	}

	if len(recent) >= maxAttempts {
		rl.attempts[key] = recent
		return &LimitError{RetryAfter: window - now.Sub(recent[0])}
	}

	if !tracked && rl.maxEntries > 0 && len(rl.attempts) >= rl.maxEntries {
		rl.evictOldest()
	}

	rl.attempts[key] = append(recent, now)
	return nil
}

// evictOldest drops the key whose latest attempt is the oldest. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, attempts := range rl.attempts {
		var last time.Time
		if n := len(attempts); n > 0 {
			last = attempts[n-1]
		}
		if oldestKey == "" || last.Before(oldestAt) {
			oldestKey, oldestAt = key, last
		}
	}
	delete(rl.attempts, oldestKey)
}

// ResetLimit clears the rate limit for a key
func (rl *RateLimiter) ResetLimit(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Cleanup removes attempts older than maxAge and drops empty keys
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, attempts := range rl.attempts {
		var recent []time.Time
		for _, t := range attempts {
			if now.Sub(t) < maxAge {
				recent = append(recent, t)
			}
		}

		if len(recent) == 0 {
			delete(rl.attempts, key)
		} else {
			rl.attempts[key] = recent
		}
	}
}
