// Package rate implements a fixed-window request limiter backed by
// redis, shared across server instances.
package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counting and expiry must be atomic or the window never expires when
// the INCR succeeds and the PEXPIRE is lost
var limitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
    return 0
end
return 1
`)

// Limiter allows up to capacity requests per key per window
type Limiter struct {
	rdb      *redis.Client
	capacity int
	window   time.Duration
}

func NewLimiter(rdb *redis.Client, capacity int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, capacity: capacity, window: window}
}

// Allow reports whether the key has budget left in the current window.
// Redis failures fail open so a cache outage doesn't take the API down
// with it.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := limitScript.Run(ctx, l.rdb,
		[]string{"rate:" + key}, l.capacity, l.window.Milliseconds()).Int()
	if err != nil {
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}
