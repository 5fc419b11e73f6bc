package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/terminalpay/pkg/redis"
)

// DefaultTTL bounds how long a retried charge request resolves to the same charge.
const DefaultTTL = 5 * time.Minute

// Store is the cache surface the ledger needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// Key identifies one logical charge attempt.
type Key struct {
	Reference   string
	AmountCents int64
}

func (k Key) validate() error {
	if strings.TrimSpace(k.Reference) == "" {
		return errors.New("idempotency reference is required")
	}
	if k.AmountCents <= 0 {
		return errors.New("idempotency amount must be positive")
	}
	return nil
}

// Ledger maps charge attempts to the charge id they resolved to.
type Ledger struct {
	store Store
	keys  redis.Keys
	ttl   time.Duration
}

func NewLedger(store Store, keys redis.Keys, ttl time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, keys: keys, ttl: ttl}, nil
}

// Reserve claims key for chargeID with a single SET NX. When another caller
// already holds the key, its charge id is returned with reserved=false.
func (l *Ledger) Reserve(ctx context.Context, key Key, chargeID string) (existing string, reserved bool, err error) {
	if err := key.validate(); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(chargeID) == "" {
		return "", false, errors.New("charge id is required")
	}
	cacheKey := l.keys.ChargeIdempotency(key.Reference, key.AmountCents)

	// The winner's entry can expire between SETNX and GET; one extra round covers it.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.store.SetNX(ctx, cacheKey, chargeID, l.ttl)
		if err != nil {
			return "", false, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if ok {
			return "", true, nil
		}
		existing, err := l.store.Get(ctx, cacheKey)
		if errors.Is(err, redis.ErrNil) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read idempotency key: %w", err)
		}
		return existing, false, nil
	}
	return "", false, errors.New("idempotency key churned during reservation")
}

// Lookup returns the charge id recorded for key, if any.
func (l *Ledger) Lookup(ctx context.Context, key Key) (string, bool, error) {
	if err := key.validate(); err != nil {
		return "", false, err
	}
	value, err := l.store.Get(ctx, l.keys.ChargeIdempotency(key.Reference, key.AmountCents))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return value, true, nil
}

// Release drops the reservation while it still points at chargeID, so a
// retry is not pinned to a charge that was never persisted.
func (l *Ledger) Release(ctx context.Context, key Key, chargeID string) error {
	if err := key.validate(); err != nil {
		return err
	}
	if _, err := l.store.CompareAndDelete(ctx, l.keys.ChargeIdempotency(key.Reference, key.AmountCents), chargeID); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
