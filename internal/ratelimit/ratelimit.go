// Package ratelimit throttles callers of the scheduling API. The Redis limiter shares its
// counters between server instances; the local limiter is used when no Redis is configured.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type Limiter interface {
	// Allow records one request for key and reports whether it is within the limit.
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis is a fixed-window limiter. The counter for a window expires with the window.
type Redis struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

func NewRedis(rdb redis.Scripter, limit int, window time.Duration, prefix string) *Redis {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "nailsdash:rl"
	}
	return &Redis{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	count, err := r.incr(ctx, r.prefix+":"+key)
	if err != nil {
		return false, err
	}
	return count <= int64(r.limit), nil
}

func (r *Redis) incr(ctx context.Context, key string) (int64, error) {
	ms := r.window.Milliseconds()
	if ms <= 0 {
		ms = int64(time.Minute / time.Millisecond)
	}
	res, err := fixedWindowScript.Run(ctx, r.rdb, []string{key}, ms).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

// Local keeps one token bucket per key in process memory.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

// NewLocal allows limit requests per window per key, with bursts up to limit.
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

func (l *Local) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter(key).Allow(), nil
}

func (l *Local) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = lim
	}
	return lim
}
