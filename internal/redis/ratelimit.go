package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit is a fixed-window quota: at most Max attempts per Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// RateLimiter is a fixed-window counter per (action, identifier). The expiry
// is set only on the first increment of a window so the window does not slide.
type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

var rateLimitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

func rateKey(action, id string) string {
	return fmt.Sprintf("rl:%s:%s", action, id)
}

// Allow records one attempt and reports whether it is within the limit.
func (r *RateLimiter) Allow(ctx context.Context, action, id string, lim Limit) (bool, error) {
	windowSecs := int(lim.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}

	res, err := rateLimitScript.Run(ctx, r.client, []string{rateKey(action, id)}, lim.Max, windowSecs).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return res == 1, nil
}

// Reset clears the counter after a successful outcome so earlier failed
// attempts stop counting against the identifier.
func (r *RateLimiter) Reset(ctx context.Context, action, id string) error {
	if err := r.client.Del(ctx, rateKey(action, id)).Err(); err != nil {
		return fmt.Errorf("rate limit reset: %w", err)
	}
	return nil
}
