package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent, expired or already consumed.
	ErrNotFound = errors.New("session: not found")

	// ErrBackendUnavailable wraps every failure to reach the storage backend.
	ErrBackendUnavailable = errors.New("session: backend unavailable")

	// ErrSerialization is returned when a payload cannot be encoded as JSON.
	ErrSerialization = errors.New("session: payload not serializable")
)

// Backend kinds reported by Backend.Kind.
const (
	KindRedis  = "redis"
	KindMemory = "memory"
)

// Backend is the key-value capability the Manager stores sessions in.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Put stores value under key, replacing any previous value, and makes it
	// unretrievable once ttl has elapsed.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Kind identifies the implementation ("redis" or "memory").
	Kind() string

	// Close releases the backend's resources.
	Close() error
}

// Taker is implemented by backends that can read and remove a key in one
// atomic step. The Manager prefers it for single-use reads.
type Taker interface {
	Take(ctx context.Context, key string) ([]byte, error)
}
