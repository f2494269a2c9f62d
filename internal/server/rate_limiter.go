package server

import (
	"sync"
	"time"
)

// activityLimiter throttles one connection's activity frames with a token
// bucket: Burst frames up front, refilled at Burst per RefillInterval.
// A nil *activityLimiter allows everything.
type activityLimiter struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

// newActivityLimiter returns nil when cfg disables throttling.
func newActivityLimiter(cfg RateLimitConfig) *activityLimiter {
	if cfg.Disabled {
		return nil
	}
	return newActivityLimiterWithClock(cfg, time.Now)
}

func newActivityLimiterWithClock(cfg RateLimitConfig, now func() time.Time) *activityLimiter {
	burst := float64(cfg.Burst)
	if burst < 1 {
		burst = 1
	}
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &activityLimiter{
		tokens:   burst,
		capacity: burst,
		perSec:   burst / interval.Seconds(),
		last:     now(),
		now:      now,
	}
}

// allow takes one token if there is one.
func (l *activityLimiter) allow() bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

func (l *activityLimiter) refillLocked() {
	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+elapsed.Seconds()*l.perSec)
	}
	l.last = now
}
