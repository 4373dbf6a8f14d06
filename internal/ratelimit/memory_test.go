package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestFixedWindow(retention time.Duration) (*FixedWindow, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(retention)
	l.nowFunc = clock.Now
	return l, clock
}

func TestFixedWindow_LimitsAfterMax(t *testing.T) {
	l, _ := newTestFixedWindow(time.Hour)
	rule := Rule{Max: 3, Window: 15 * time.Minute}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limited, err := l.Hit(ctx, "k", rule)
		require.NoError(t, err)
		assert.False(t, limited, "request %d", i+1)
	}

	limited, err := l.Hit(ctx, "k", rule)
	require.NoError(t, err)
	assert.True(t, limited)

	limited, _ = l.Hit(ctx, "other", rule)
	assert.False(t, limited, "keys are independent")
}

func TestFixedWindow_ResetsOnlyAfterWindow(t *testing.T) {
	l, clock := newTestFixedWindow(time.Hour)
	rule := Rule{Max: 1, Window: 15 * time.Minute}
	ctx := context.Background()

	limited, _ := l.Hit(ctx, "k", rule)
	assert.False(t, limited)

	clock.Advance(15 * time.Minute)
	limited, _ = l.Hit(ctx, "k", rule)
	assert.True(t, limited, "exactly one window later is still inside")

	clock.Advance(time.Millisecond)
	limited, _ = l.Hit(ctx, "k", rule)
	assert.False(t, limited, "window resets once strictly exceeded")
}

func TestFixedWindow_InvalidRule(t *testing.T) {
	l, _ := newTestFixedWindow(time.Hour)

	_, err := l.Hit(context.Background(), "k", Rule{Max: 0, Window: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestFixedWindow_Sweep(t *testing.T) {
	l, clock := newTestFixedWindow(time.Hour)
	rule := Rule{Max: 3, Window: 15 * time.Minute}
	ctx := context.Background()

	_, _ = l.Hit(ctx, "old", rule)
	clock.Advance(50 * time.Minute)
	_, _ = l.Hit(ctx, "new", rule)
	clock.Advance(11 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestFixedWindow_ConcurrentHits(t *testing.T) {
	l, _ := newTestFixedWindow(time.Hour)
	rule := Rule{Max: 10, Window: time.Minute}
	ctx := context.Background()

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			limited, err := l.Hit(ctx, "k", rule)
			if err == nil && !limited {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestFixedWindow_RunStopsOnCancel(t *testing.T) {
	l, _ := newTestFixedWindow(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond, discardLogger())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
