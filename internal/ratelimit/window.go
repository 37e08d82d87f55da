package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// FixedWindow is an in-process fixed-window request counter. The dispatcher
// keys it by provider and caller, so one noisy caller cannot exhaust a
// provider's budget for everyone else.
//
// Unlike the Redis-backed Limiter, state lives in this process only. The
// window resets lazily: the first Allow after the window elapses starts a
// fresh one.
type FixedWindow struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewFixedWindow creates an empty fixed-window limiter.
func NewFixedWindow() *FixedWindow {
	return &FixedWindow{windows: make(map[string]*window)}
}

// Allow counts one request against key and reports whether it fits within
// limit for the current window. The count is incremented first, so rejected
// requests still consume the window. A non-positive limit admits everything.
func (f *FixedWindow) Allow(key string, limit int, length time.Duration) LimitResult {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.windows[key]
	if w == nil {
		w = &window{start: now}
		f.windows[key] = w
	}
	if now.Sub(w.start) >= length {
		w.start = now
		w.count = 0
	}
	w.count++

	allowed := limit <= 0 || w.count <= limit
	remaining := int64(limit - w.count)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := w.start.Add(length)
	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return LimitResult{
		Allowed:    allowed,
		Remaining:  remaining,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

// Prune drops windows that have been idle longer than maxAge.
func (f *FixedWindow) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	f.mu.Lock()
	defer f.mu.Unlock()
	for key, w := range f.windows {
		if w.start.Before(cutoff) {
			delete(f.windows, key)
		}
	}
}

// Sweep prunes idle windows every interval until ctx is cancelled.
func (f *FixedWindow) Sweep(ctx context.Context, interval, maxAge time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			f.Prune(maxAge)
		}
	}
}
