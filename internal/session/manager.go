package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is used when Options.TTL is not positive.
const DefaultTTL = 600 * time.Second

// Options configures session lifecycle policy.
type Options struct {
	TTL       time.Duration // lifetime of a stored payload
	SingleUse bool          // a consuming fetch removes the session
}

// Observer receives lifecycle notifications from a Manager. Calls are made
// synchronously on the request path and must not block.
type Observer interface {
	SessionCreated(id string, size int)
	SessionFetched(id string, consumed bool)
	BackendError(op string)
}

// Observers fans a notification out to several observers.
type Observers []Observer

// SessionCreated notifies every observer in order.
func (o Observers) SessionCreated(id string, size int) {
	for _, obs := range o {
		obs.SessionCreated(id, size)
	}
}

// SessionFetched notifies every observer in order.
func (o Observers) SessionFetched(id string, consumed bool) {
	for _, obs := range o {
		obs.SessionFetched(id, consumed)
	}
}

// BackendError notifies every observer in order.
func (o Observers) BackendError(op string) {
	for _, obs := range o {
		obs.BackendError(op)
	}
}

// Manager owns the id-to-payload mapping. It generates ids, encodes
// payloads and applies TTL and single-use policy identically for every
// backend.
type Manager struct {
	backend  Backend
	opts     Options
	observer Observer
}

// NewManager creates a Manager storing sessions in backend.
func NewManager(backend Backend, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{backend: backend, opts: opts}
}

// SetObserver registers the observer notified of lifecycle events.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.opts.TTL }

// SingleUse reports whether consuming fetches remove the session.
func (m *Manager) SingleUse() bool { return m.opts.SingleUse }

// Backend returns the storage backend.
func (m *Manager) Backend() Backend { return m.backend }

// Create encodes payload as JSON, stores it under a new id and returns the id.
func (m *Manager) Create(ctx context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	id, err := NewID()
	if err != nil {
		return "", err
	}

	if err := m.backend.Put(ctx, id, data, m.opts.TTL); err != nil {
		m.backendError("put", err)
		return "", err
	}

	if m.observer != nil {
		m.observer.SessionCreated(id, len(data))
	}
	return id, nil
}

// Fetch returns the payload stored under id, or ErrNotFound if it is
// absent, expired or already consumed.
//
// When consume is true and the manager is in single-use mode the session is
// removed before the payload is returned. Backends implementing Taker do
// this atomically; for the others a concurrent fetch may observe the same
// payload between the read and the delete.
func (m *Manager) Fetch(ctx context.Context, id string, consume bool) (json.RawMessage, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	consume = consume && m.opts.SingleUse

	var (
		data []byte
		err  error
	)
	switch t, ok := m.backend.(Taker); {
	case consume && ok:
		data, err = t.Take(ctx, id)
		if err != nil {
			m.backendError("take", err)
			return nil, err
		}
	default:
		data, err = m.backend.Get(ctx, id)
		if err != nil {
			m.backendError("get", err)
			return nil, err
		}
		if consume {
			if err := m.backend.Delete(ctx, id); err != nil {
				m.backendError("delete", err)
				return nil, err
			}
		}
	}

	if m.observer != nil {
		m.observer.SessionFetched(id, consume)
	}
	return json.RawMessage(data), nil
}

func (m *Manager) backendError(op string, err error) {
	if m.observer != nil && errors.Is(err, ErrBackendUnavailable) {
		m.observer.BackendError(op)
	}
}
