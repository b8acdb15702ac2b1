package memorystore

import (
	"context"
	"sync"
	"time"
)

// RevocationStore tracks revoked refresh token identifiers until their
// natural expiry.
type RevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time

	now func() time.Time
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *RevocationStore) Revoke(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[id] = s.now().Add(ttl)
	return nil
}

func (s *RevocationStore) IsRevoked(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.revoked[id]
	if !ok {
		return false, nil
	}
	if s.now().After(deadline) {
		delete(s.revoked, id)
		return false, nil
	}
	return true, nil
}
