package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/redis"
)

// ErrStore marks failures talking to the marker store, as opposed to
// failures returned by the guarded handler.
var ErrStore = errors.New("processed marker store")

// Store is the redis surface the manager needs.
type Store interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Del(context.Context, ...string) error
}

// Manager gives Pub/Sub consumers at-most-once handling per event within the
// marker TTL. Markers live under Keys.ConsumerProcessed.
type Manager struct {
	store Store
	keys  redis.Keys
	ttl   time.Duration
}

func NewManager(store Store, keys redis.Keys, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, keys: keys, ttl: ttl}, nil
}

// Once runs fn unless consumer already handled eventID. It reports whether
// fn was skipped. When fn fails the marker is cleared so a redelivery runs
// fn again; the handler error is returned unchanged.
func (m *Manager) Once(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	key, err := m.markerKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	fresh, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("%w: mark %s: %v", ErrStore, key, err)
	}
	if !fresh {
		return true, nil
	}
	if err := fn(ctx); err != nil {
		if delErr := m.store.Del(context.WithoutCancel(ctx), key); delErr != nil {
			return false, errors.Join(err, fmt.Errorf("%w: clear %s: %v", ErrStore, key, delErr))
		}
		return false, err
	}
	return false, nil
}

func (m *Manager) markerKey(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.keys.ConsumerProcessed(consumer, eventID.String()), nil
}
