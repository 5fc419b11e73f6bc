package terminals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/terminalpay/pkg/redis"
)

// DefaultBusyLeaseTTL matches the gateway payment window. The lease is an
// exclusivity marker only; timeouts are decided by the reconciliation sweep.
const DefaultBusyLeaseTTL = 2 * time.Minute

// Store is the cache surface used for leases and cached reads.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

// LeaseManager grants exclusive, time-bounded busy leases on terminals.
type LeaseManager struct {
	store Store
	keys  redis.Keys
}

func NewLeaseManager(store Store, keys redis.Keys) (*LeaseManager, error) {
	if store == nil {
		return nil, errors.New("lease store is required")
	}
	return &LeaseManager{store: store, keys: keys}, nil
}

// TryAcquireBusy marks the terminal busy on behalf of owner, normally the
// charge id the lease is taken for. It returns false without waiting when
// another lease is live.
func (m *LeaseManager) TryAcquireBusy(ctx context.Context, terminalID, owner string, ttl time.Duration) (bool, error) {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return false, errors.New("terminal id is required")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return false, errors.New("lease owner is required")
	}
	if ttl <= 0 {
		ttl = DefaultBusyLeaseTTL
	}
	ok, err := m.store.SetNX(ctx, m.keys.TerminalBusy(terminalID), owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire busy lease: %w", err)
	}
	return ok, nil
}

// ReleaseBusy drops the lease only while owner still holds it. A lease that
// expired and was taken by another charge is left alone. Releasing a free
// terminal is a no-op.
func (m *LeaseManager) ReleaseBusy(ctx context.Context, terminalID, owner string) error {
	terminalID = strings.TrimSpace(terminalID)
	owner = strings.TrimSpace(owner)
	if terminalID == "" || owner == "" {
		return nil
	}
	if _, err := m.store.CompareAndDelete(ctx, m.keys.TerminalBusy(terminalID), owner); err != nil {
		return fmt.Errorf("release busy lease: %w", err)
	}
	return nil
}

// Holder returns the owner of the live lease on the terminal, if any.
func (m *LeaseManager) Holder(ctx context.Context, terminalID string) (string, bool, error) {
	owner, err := m.store.Get(ctx, m.keys.TerminalBusy(strings.TrimSpace(terminalID)))
	if errors.Is(err, redis.ErrNil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read busy lease: %w", err)
	}
	return owner, true, nil
}

func (m *LeaseManager) IsBusy(ctx context.Context, terminalID string) (bool, error) {
	_, busy, err := m.Holder(ctx, terminalID)
	return busy, err
}
