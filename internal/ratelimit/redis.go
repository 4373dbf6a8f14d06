package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// incrWindow increments the counter and starts its TTL on first use, in one
// round trip.
var incrWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

const redisKeyPrefix = "ratelimit:"

// Redis is a Limiter shared by every replica. The key's TTL is the window,
// so Redis itself handles expiry and no sweep is needed.
type Redis struct {
	client redis.Scripter
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client redis.Scripter) *Redis {
	return &Redis{client: client}
}

// Hit implements Limiter.
func (l *Redis) Hit(ctx context.Context, key string, rule Rule) (bool, error) {
	if err := rule.validate(); err != nil {
		return false, err
	}

	count, err := incrWindow.Run(ctx, l.client, []string{redisKeyPrefix + key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis incr %s: %w", key, err)
	}
	return count > int64(rule.Max), nil
}
