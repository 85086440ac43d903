package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all stored sessions.
	KeyPrefix = "session:"

	// DefaultDialTimeout bounds the initial connection and PING.
	DefaultDialTimeout = 2 * time.Second
)

// RedisBackend stores sessions as plain string keys with a native expiry.
// TTL enforcement is left to Redis.
type RedisBackend struct {
	client *redis.Client

	// noGetDel is set once the server rejects GETDEL (Redis < 6.2).
	noGetDel atomic.Bool
}

// NewRedisBackend wraps an already connected client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// OpenRedis parses a redis:// or rediss:// URL, connects and verifies the
// connection with PING within dialTimeout.
func OpenRedis(ctx context.Context, url string, dialTimeout time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("session: invalid redis url: %w", err)
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	opts.DialTimeout = dialTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrBackendUnavailable, err)
	}

	return NewRedisBackend(client), nil
}

func (r *RedisBackend) key(id string) string {
	return KeyPrefix + id
}

// Put stores value with SET EX so the expiry is applied atomically.
func (r *RedisBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Get returns the stored value. Redis never returns a lapsed key.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return val, nil
}

// Delete removes the key. DEL on a missing key is a no-op.
func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Take reads and removes the key with GETDEL. Servers older than 6.2 lack
// GETDEL; for those it degrades to GET followed by DEL, which is not atomic.
func (r *RedisBackend) Take(ctx context.Context, key string) ([]byte, error) {
	if !r.noGetDel.Load() {
		val, err := r.client.GetDel(ctx, r.key(key)).Bytes()
		switch {
		case err == nil:
			return val, nil
		case errors.Is(err, redis.Nil):
			return nil, ErrNotFound
		case isUnknownCommand(err):
			r.noGetDel.Store(true)
			log.Printf("[session] redis does not support GETDEL, single-use reads are no longer atomic")
		default:
			return nil, unavailable("take", err)
		}
	}

	val, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := r.Delete(ctx, key); err != nil {
		return nil, err
	}
	return val, nil
}

// Kind returns "redis".
func (r *RedisBackend) Kind() string { return KindRedis }

// Close closes the Redis connection pool.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (r *RedisBackend) Client() *redis.Client {
	return r.client
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", ErrBackendUnavailable, op, err)
}

func isUnknownCommand(err error) bool {
	return strings.HasPrefix(err.Error(), "ERR unknown command")
}
