package idempotency

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryStore keeps claims in a concurrent map. Expiry is checked inside the
// per-key compute, so an expired claim is replaced in the same step that
// would otherwise reject it.
type MemoryStore struct {
	claims *xsync.MapOf[string, time.Time]
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims: xsync.NewMapOf[string, time.Time](),
		now:    time.Now,
	}
}

// WithClock replaces the time source; used in tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	claimed := false
	s.claims.Compute(key, func(expiresAt time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Before(expiresAt) {
			return expiresAt, false
		}
		claimed = true
		return now.Add(ttl), false
	})
	return claimed, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.claims.Delete(key)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep drops expired claims and returns how many remain.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.claims.Range(func(key string, expiresAt time.Time) bool {
		if !now.Before(expiresAt) {
			s.claims.Compute(key, func(current time.Time, loaded bool) (time.Time, bool) {
				return current, loaded && !now.Before(current)
			})
		}
		return true
	})
	return s.claims.Size()
}
