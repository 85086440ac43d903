package session

import (
	"context"
	"errors"
	"log"
	"time"
)

// BackendConfig selects and tunes the storage backend.
type BackendConfig struct {
	RedisURL      string        // empty selects the in-memory backend
	DialTimeout   time.Duration // bound on the initial Redis connection
	SweepInterval time.Duration // memory backend only; 0 disables the sweep
}

// OpenBackend chooses the backend once for the lifetime of the process.
// With no Redis URL, or when Redis cannot be reached at startup, it returns
// a MemoryBackend. A malformed URL is a configuration error.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if cfg.RedisURL != "" {
		rb, err := OpenRedis(ctx, cfg.RedisURL, cfg.DialTimeout)
		if err == nil {
			log.Printf("[session] using redis backend")
			return rb, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return nil, err
		}
		log.Printf("[session] redis connection failed: %v", err)
		log.Printf("[session] falling back to in-memory backend")
	} else {
		log.Printf("[session] no redis configured, using in-memory backend")
	}

	mb := NewMemoryBackend()
	mb.StartSweep(cfg.SweepInterval)
	return mb, nil
}
