package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowCounter records one hit on key in a fixed window and returns the hit count
// so far plus the time left before the window resets.
type windowCounter interface {
	hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisRateLimiter applies the RateLimiter policy with the window held in Redis, so
// every booking-service replica behind the same Redis shares one budget per key.
type RedisRateLimiter struct {
	counter windowCounter
	limit   int
	window  time.Duration
	prefix  string
	key     KeyFunc
}

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	return newRedisRateLimiter(redisCounter{rdb: rdb}, limit, window, prefix)
}

func newRedisRateLimiter(counter windowCounter, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{counter: counter, limit: limit, window: window, prefix: prefix, key: ClientKey}
}

// KeyedBy switches the bucket key, typically to BusinessClientKey.
func (rl *RedisRateLimiter) KeyedBy(fn KeyFunc) *RedisRateLimiter {
	if fn != nil {
		rl.key = fn
	}
	return rl
}

// Middleware counts each request under prefix:key. When Redis fails the request is let
// through if failOpen, otherwise answered with 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.prefix + ":" + rl.key(r)
			count, ttl, err := rl.counter.hit(r.Context(), key, rl.window)
			if err != nil {
				if logger != nil {
					logger.Warn("redis rate limiter error", "key", key, "err", err)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if count > int64(rl.limit) {
				if ttl <= 0 {
					ttl = rl.window
				}
				rejectRateLimited(w, ttl)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// The expiry is set on the first hit; a key that lost its TTL is re-armed so it cannot
// block forever.
var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

type redisCounter struct {
	rdb *redis.Client
}

func (c redisCounter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := redisFixedWindowScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, err
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis script result %T", res)
	}
	count, err := scriptInt(vals[0])
	if err != nil {
		return 0, 0, err
	}
	ttl, err := scriptInt(vals[1])
	if err != nil {
		return 0, 0, err
	}
	return count, time.Duration(ttl) * time.Millisecond, nil
}

func scriptInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script value %T", v)
	}
}
