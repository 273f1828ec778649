package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces session hashes in Redis.
const DefaultKeyPrefix = "kavach:session:"

// redisSetScript writes one hash field and refreshes the whole-session TTL in
// a single round trip, so a value is never stored without its expiry.
// KEYS[1] = session key
// ARGV[1] = token, ARGV[2] = value, ARGV[3] = ttl seconds (0 = no expiry)
var redisSetScript = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return 1
`)

// redisSetIfAbsentScript is redisSetScript with HSETNX semantics. The TTL is
// refreshed only when the field was written.
var redisSetIfAbsentScript = redis.NewScript(`
local written = redis.call("HSETNX", KEYS[1], ARGV[1], ARGV[2])
local ttl = tonumber(ARGV[3])
if written == 1 and ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return written
`)

// RedisOptions configures a Redis store.
type RedisOptions struct {
	KeyPrefix string        // default DefaultKeyPrefix
	TTL       time.Duration // default DefaultTTL; negative disables expiry
}

// Redis is a Store backed by a Redis server. Each session is one hash,
// field = token, value = original string.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	ttlSecs   int64
}

// NewRedis connects to the Redis server at url (redis://[:pass@]host:port/db).
// The connection is checked with PING before returning.
func NewRedis(ctx context.Context, url string, opts RedisOptions) (*Redis, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("redis ping %s: %w", redisOpts.Addr, err)
	}
	return NewRedisFromClient(client, opts), nil
}

// NewRedisFromClient wraps an existing client. The store takes ownership of
// the client and closes it on Close.
func NewRedisFromClient(client redis.UniversalClient, opts RedisOptions) *Redis {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	var secs int64
	if ttl > 0 {
		secs = int64(ttl / time.Second)
		if secs == 0 {
			secs = 1
		}
	}
	return &Redis{client: client, keyPrefix: prefix, ttlSecs: secs}
}

func (r *Redis) key(sessionID string) string {
	return r.keyPrefix + sessionID
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, sessionID, token, value string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := redisSetScript.Run(ctx, r.client, []string{r.key(sessionID)}, token, value, r.ttlSecs).Err(); err != nil {
		return r.wrap("set", sessionID, err)
	}
	return nil
}

// SetIfAbsent implements Store.
func (r *Redis) SetIfAbsent(ctx context.Context, sessionID, token, value string) (bool, error) {
	if err := checkSession(sessionID); err != nil {
		return false, err
	}
	n, err := redisSetIfAbsentScript.Run(ctx, r.client, []string{r.key(sessionID)}, token, value, r.ttlSecs).Int64()
	if err != nil {
		return false, r.wrap("setnx", sessionID, err)
	}
	return n == 1, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, sessionID, token string) (string, bool, error) {
	if err := checkSession(sessionID); err != nil {
		return "", false, err
	}
	v, err := r.client.HGet(ctx, r.key(sessionID), token).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, r.wrap("hget", sessionID, err)
	}
	return v, true, nil
}

// GetAll implements Store.
func (r *Redis) GetAll(ctx context.Context, sessionID string) (map[string]string, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	m, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, r.wrap("hgetall", sessionID, err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// Clear implements Store.
func (r *Redis) Clear(ctx context.Context, sessionID string) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return r.wrap("del", sessionID, err)
	}
	return nil
}

// wrap annotates a client error with the operation and key, mapping the
// client's closed error onto ErrClosed.
func (r *Redis) wrap(op, sessionID string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("redis %s %s: %w", op, r.key(sessionID), err)
}

// Ping checks connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil
		}
		return err
	}
	return nil
}
