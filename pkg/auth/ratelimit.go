package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter decides whether an identity may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, id *Identity) error
}

// RateLimitError reports an exhausted quota and when the window reopens.
type RateLimitError struct {
	Subject    string
	Tier       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded for %s (tier %s)", e.Limit, e.Subject, e.Tier)
}

const window = time.Minute

// WindowLimiter counts requests per subject and tier in fixed one-minute
// windows held in memory. Expired windows are swept lazily.
type WindowLimiter struct {
	defaultRPM int
	tiers      map[string]int

	mu        sync.Mutex
	windows   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	start time.Time
	count int
}

// NewWindowLimiter returns a limiter allowing defaultRPM requests per minute,
// overridden per service tier by tiers. A limit of zero or less disables
// limiting for that tier.
func NewWindowLimiter(defaultRPM int, tiers map[string]int) *WindowLimiter {
	return &WindowLimiter{
		defaultRPM: defaultRPM,
		tiers:      tiers,
		windows:    make(map[string]*bucket),
		now:        time.Now,
	}
}

func (l *WindowLimiter) limitFor(tier string) int {
	if rpm, ok := l.tiers[tier]; ok {
		return rpm
	}
	return l.defaultRPM
}

func (l *WindowLimiter) Allow(_ context.Context, id *Identity) error {
	if id == nil {
		return nil
	}
	tier := id.ServiceTier
	if tier == "" {
		tier = "default"
	}
	limit := l.limitFor(tier)
	if limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	key := tier + "\x00" + id.Subject
	b, ok := l.windows[key]
	if !ok || now.Sub(b.start) >= window {
		l.windows[key] = &bucket{start: now, count: 1}
		return nil
	}
	if b.count >= limit {
		return &RateLimitError{
			Subject:    id.Subject,
			Tier:       tier,
			Limit:      limit,
			RetryAfter: b.start.Add(window).Sub(now),
		}
	}
	b.count++
	return nil
}

// sweep drops expired windows at most once per window. Callers hold mu.
func (l *WindowLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	for k, b := range l.windows {
		if now.Sub(b.start) >= window {
			delete(l.windows, k)
		}
	}
	l.lastSweep = now
}

// Len returns the number of live windows.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
