package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slideWindowScript runs prune, count, conditional record and expiry refresh
// as one atomic unit. A rejected call records nothing.
//
// KEYS[1]: window key
// ARGV[1]: exclusive lower bound for kept scores, e.g. "(1700000000000"
// ARGV[2]: now in unix milliseconds
// ARGV[3]: window in milliseconds
// ARGV[4]: limit
// ARGV[5]: member for the new timestamp
const slideWindowScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[4]) then
  return {0, count}
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {1, count + 1}
`

// Redis is a Store backed by a go-redis client.
type Redis struct {
	client *redis.Client
	script *redis.Script
}

// NewRedis parses a redis:// URL and creates the client. It does not dial;
// call Ping to verify connectivity.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisFromClient(redis.NewClient(opts)), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		script: redis.NewScript(slideWindowScript),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or -1 when it has no expiry.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("pttl", err)
	}
	// go-redis reports the sentinel replies -2 (missing) and -1 (no expiry)
	// as raw durations.
	switch ttl {
	case -2:
		return 0, ErrNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

func (r *Redis) SlideWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (Window, error) {
	nowMs := now.UnixMilli()
	cutoff := "(" + strconv.FormatInt(nowMs-window.Milliseconds(), 10)
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	res, err := r.script.Run(ctx, r.client, []string{key},
		cutoff, nowMs, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Window{}, unavailable("slide window", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("slide window: unexpected script result %v", res)
	}

	return Window{Allowed: res[0] == 1, Count: int(res[1])}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", ErrUnavailable, op, err)
}
