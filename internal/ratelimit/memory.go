package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// FixedWindow is the in-process Limiter. A window fully resets once more
// than rule.Window has passed since its first request, so up to 2*Max
// requests can land around a boundary.
type FixedWindow struct {
	mu        sync.Mutex
	windows   map[string]*window
	retention time.Duration
	nowFunc   func() time.Time
}

// NewFixedWindow creates an in-memory limiter. Entries whose window started
// more than retention ago are dropped by Sweep.
func NewFixedWindow(retention time.Duration) *FixedWindow {
	return &FixedWindow{
		windows:   make(map[string]*window),
		retention: retention,
		nowFunc:   time.Now,
	}
}

// Hit implements Limiter.
func (l *FixedWindow) Hit(_ context.Context, key string, rule Rule) (bool, error) {
	if err := rule.validate(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) > rule.Window {
		l.windows[key] = &window{count: 1, start: now}
		return false, nil
	}
	if w.count >= rule.Max {
		return true, nil
	}
	w.count++
	return false, nil
}

// Sweep evicts stale windows and returns how many were removed.
func (l *FixedWindow) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) > l.retention {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run sweeps every interval until ctx is cancelled.
func (l *FixedWindow) Run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug("rate limit windows swept", slog.Int("removed", n))
			}
		}
	}
}
