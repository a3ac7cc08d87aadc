// Package ratelimit implements fixed-window request counting on the
// key-value store. Each window is a separate counter key that expires on
// its own; crossing a window boundary simply starts a fresh bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"license-service/internal/client"
	"license-service/internal/util"
)

const keyPrefix = "ratelimit:"

// Result reports the outcome of one counted request.
type Result struct {
	Allowed   bool
	Remaining int
	Current   int64
	ResetAt   time.Time
}

// Limiter counts requests for one action against one policy. Distinct
// policies (global, auth, license operations) are independent instances
// differing only in limit and window.
type Limiter struct {
	store  client.Store
	action string
	limit  int
	window time.Duration

	now func() time.Time
}

func NewLimiter(store client.Store, action string, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		action: action,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) Window() time.Duration { return l.window }

// Check atomically increments the subject's counter for the current window
// and compares it to the limit. The counter is created with the window's
// TTL on first touch, in the same store round trip. A rejected request
// still increments, so abusive clients see consistent rejection.
func (l *Limiter) Check(ctx context.Context, subject string) (*Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	resetAt := windowStart.Add(l.window)

	key := fmt.Sprintf("%s%s:%s:%d", keyPrefix, l.action, subject, windowStart.UnixMilli())

	count, err := l.store.IncrWithTTL(ctx, key, 1, l.window)
	if err != nil {
		util.Error("rate limit increment failed",
			zap.String("action", l.action),
			zap.String("subject", subject),
			zap.Error(err))
		return nil, fmt.Errorf("rate limit increment failed: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   count <= int64(l.limit),
		Remaining: remaining,
		Current:   count,
		ResetAt:   resetAt,
	}

	if !result.Allowed {
		util.Debug("rate limit exceeded",
			zap.String("action", l.action),
			zap.String("subject", subject),
			zap.Int64("count", count),
			zap.Int("limit", l.limit))
	}

	return result, nil
}
