// Package ratelimit counts requests per key in fixed windows.
//
// Each key gets a window that opens on its first hit and lasts for the
// configured duration; hits beyond the limit inside that window are refused.
// Counters live in a Store so several server processes can share them
// through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Store keeps per-key hit counters.
type Store interface {
	// Increment records one hit for key and returns the number of hits in the
	// current window, including this one, and when the window ends.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// Result describes the outcome of a single Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long the caller should wait before the window reopens.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter allows up to limit hits per key per window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

func (l *Limiter) Limit() int { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records a hit for key and reports whether it fits in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	count, resetAt, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
