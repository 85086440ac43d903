// Package ratelimit throttles session creation per client. When the store
// runs on Redis the counters live there (INCR + EXPIRE fixed window) so all
// instances share them; on the in-memory backend an in-process counter with
// the same semantics is used.
package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration. A Limit of zero
// or less disables the rule.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:create:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleCreate allows 30 session creations per minute per client IP.
var RuleCreate = Rule{Key: "rl:create:", Limit: 30, Window: time.Minute}

// Limiter decides whether a request identified by identifier is allowed.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow increments the counter in Redis and sets the expiry on first access.
//
// On Redis errors the method fails open (returns true) so that a Redis
// outage does not block legitimate traffic.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would persist; drop it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

type window struct {
	count int
	start time.Time
}

// pruneThreshold is the number of tracked keys above which a call also
// drops every finished window.
const pruneThreshold = 10000

// MemoryLimiter is a fixed-window limiter kept in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]window),
		now:     time.Now,
	}
}

// Allow counts the request in the identifier's current window.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return true, nil
	}
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > pruneThreshold {
		for k, w := range l.windows {
			if now.Sub(w.start) >= rule.Window {
				delete(l.windows, k)
			}
		}
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= rule.Window {
		w = window{start: now}
	}
	w.count++
	l.windows[key] = w

	return w.count <= rule.Limit, nil
}
