// Package redistest provides an in-memory stand-in for the redis client.
package redistest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/terminalpay/pkg/redis"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Store mimics the subset of redis.Client used by leases, caches and ledgers.
// Expiry is evaluated lazily against Now.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	TTLs map[string]time.Duration
	Now  func() time.Time

	// Err, when set, is returned by every call.
	Err error
}

func NewStore() *Store {
	return &Store{
		data: make(map[string]entry),
		TTLs: make(map[string]time.Duration),
		Now:  time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	e, ok := s.live(key)
	if !ok {
		return "", redis.ErrNil
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.put(key, value, ttl)
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, key := range keys {
		delete(s.data, key)
		delete(s.TTLs, key)
	}
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	e, ok := s.live(key)
	if !ok || e.value != expected {
		return false, nil
	}
	delete(s.data, key)
	delete(s.TTLs, key)
	return true, nil
}

func (s *Store) ExtendIfOwner(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	e, ok := s.live(key)
	if !ok || e.value != owner {
		return false, nil
	}
	s.put(key, e.value, ttl)
	return true, nil
}

// Has reports whether key currently holds a live value.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok
}

// Value returns the raw value stored at key.
func (s *Store) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.live(key)
	return e.value
}

func (s *Store) put(key string, value any, ttl time.Duration) {
	e := entry{value: toString(value)}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}
	s.data[key] = e
	s.TTLs[key] = ttl
}

func (s *Store) live(key string) (entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return entry{}, false
	}
	return e, true
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
