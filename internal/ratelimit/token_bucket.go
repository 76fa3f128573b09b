// Package ratelimit paces transmissions against a fixed rate.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills at rate tokens per second up to burst. With a burst of
// one it enforces a minimum gap of 1/rate between consecutive takes.
type TokenBucket struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	available  float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewTokenBucket(rate float64, burst int) *TokenBucket {
	return newTokenBucket(rate, burst, time.Now)
}

// NewPacer returns a single-token bucket: one send per 1/rate seconds.
func NewPacer(rate float64) *TokenBucket {
	return NewTokenBucket(rate, 1)
}

func newTokenBucket(rate float64, burst int, now func() time.Time) *TokenBucket {
	return &TokenBucket{rate: rate, burst: burst, available: float64(burst), lastRefill: now(), now: now}
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.available += elapsed * tb.rate
	if tb.available > float64(tb.burst) {
		tb.available = float64(tb.burst)
	}
	tb.lastRefill = now
}

// Allow consumes n tokens if available and returns true, otherwise false.
func (tb *TokenBucket) Allow(n int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(tb.now())
	if tb.available >= float64(n) {
		tb.available -= float64(n)
		return true
	}
	return false
}

// Delay reports how long until n tokens are available, without consuming.
func (tb *TokenBucket) Delay(n int) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(tb.now())
	missing := float64(n) - tb.available
	if missing <= 0 {
		return 0
	}
	return time.Duration(missing / tb.rate * float64(time.Second))
}
