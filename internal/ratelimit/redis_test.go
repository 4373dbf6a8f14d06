package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), mr
}

func TestRedis_LimitsAfterMax(t *testing.T) {
	l, mr := newTestRedis(t)
	rule := Rule{Max: 2, Window: 15 * time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limited, err := l.Hit(ctx, "forgot-password:ip:10.0.0.1", rule)
		require.NoError(t, err)
		assert.False(t, limited)
	}
	limited, err := l.Hit(ctx, "forgot-password:ip:10.0.0.1", rule)
	require.NoError(t, err)
	assert.True(t, limited)

	assert.Equal(t, 15*time.Minute, mr.TTL("ratelimit:forgot-password:ip:10.0.0.1"))
}

func TestRedis_WindowExpires(t *testing.T) {
	l, mr := newTestRedis(t)
	rule := Rule{Max: 1, Window: time.Minute}
	ctx := context.Background()

	_, _ = l.Hit(ctx, "k", rule)
	limited, _ := l.Hit(ctx, "k", rule)
	assert.True(t, limited)

	mr.FastForward(time.Minute + time.Second)

	limited, err := l.Hit(ctx, "k", rule)
	require.NoError(t, err)
	assert.False(t, limited)
}

func TestRedis_Unavailable(t *testing.T) {
	l, mr := newTestRedis(t)
	mr.Close()

	_, err := l.Hit(context.Background(), "k", Rule{Max: 1, Window: time.Minute})
	assert.Error(t, err)
}
