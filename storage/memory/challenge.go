// Package memorystore provides in-process implementations of the
// storage contracts, used in tests and single-node deployments.
package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/coinwatch/walletauth/challenge"
)

type challengeEntry struct {
	ch       challenge.Challenge
	consumed bool
}

// ChallengeStore keeps challenges in a mutex-guarded map. Consumed
// entries stay as markers until Sweep so replays are distinguishable
// from unknown nonces.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]*challengeEntry

	now func() time.Time
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		entries: make(map[string]*challengeEntry),
		now:     time.Now,
	}
}

func (s *ChallengeStore) Put(_ context.Context, ch challenge.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ch.Nonce] = &challengeEntry{ch: ch}
	return nil
}

func (s *ChallengeStore) Consume(_ context.Context, nonce string) (challenge.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[nonce]
	if !ok {
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	if e.consumed {
		return challenge.Challenge{}, challenge.ErrConsumed
	}
	if s.now().After(e.ch.ExpiresAt) {
		return challenge.Challenge{}, challenge.ErrExpired
	}
	e.consumed = true
	return e.ch, nil
}

func (s *ChallengeStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for nonce, e := range s.entries {
		if now.After(e.ch.ExpiresAt) {
			delete(s.entries, nonce)
			removed++
		}
	}
	return removed, nil
}
