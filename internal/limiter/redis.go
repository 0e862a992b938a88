package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/clinic-credit/internal/clock"
	pkgcrypto "github.com/and161185/clinic-credit/internal/crypto"
)

// KEYS[1] sorted set of generation timestamps (ms).
// ARGV: now_ms, window_ms, limit, member.
// Returns {allowed, retry_after_ms}.
var luaSlidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
	local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
	return {0, tonumber(oldest[2]) + window - now}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, 0}`)

// Redis is a sliding-window limiter shared by all instances. The whole
// prune-count-append step runs as one Lua script, so it is atomic per key.
type Redis struct {
	cli    redis.Scripter
	limit  int
	window time.Duration
	clock  clock.Clock
	prefix string
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter.
func NewRedis(cli redis.Scripter, limit int, window time.Duration, clk clock.Clock) *Redis {
	return &Redis{cli: cli, limit: limit, window: window, clock: clk, prefix: "clinic-credit:tokgen:"}
}

// Key returns the sorted-set key for a user.
func (r *Redis) Key(userID uuid.UUID) string { return r.prefix + userID.String() }

// Allow runs the sliding-window script for the user.
func (r *Redis) Allow(ctx context.Context, userID uuid.UUID) (bool, time.Duration, error) {
	now := r.clock.Now().UnixMilli()
	suffix, err := pkgcrypto.RandBytes(6)
	if err != nil {
		return false, 0, err
	}
	member := strconv.FormatInt(now, 10) + "-" + fmt.Sprintf("%x", suffix)

	res, err := luaSlidingWindow.Run(ctx, r.cli,
		[]string{r.Key(userID)}, now, r.window.Milliseconds(), r.limit, member,
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis limiter: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis limiter: unexpected reply %v", res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}

// NewRedisClient dials Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
