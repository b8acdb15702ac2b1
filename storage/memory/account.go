package memorystore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/wallet"
)

// AccountStore keeps accounts and identity links in maps under one
// mutex, which makes Resolve trivially race-free: the whole
// find-or-create runs inside the critical section.
type AccountStore struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]account.Account
	identities map[string]identityLink
}

type identityLink struct {
	accountID uuid.UUID
	identity  wallet.Identity
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts:   make(map[uuid.UUID]account.Account),
		identities: make(map[string]identityLink),
	}
}

func (s *AccountStore) Resolve(_ context.Context, id wallet.Identity, now time.Time) (account.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link, ok := s.identities[id.Key()]; ok {
		acct := s.accounts[link.accountID]
		acct.LastLoginAt = now
		s.accounts[acct.ID] = acct
		return acct, false, nil
	}

	acct, err := account.New(id, now)
	if err != nil {
		return account.Account{}, false, err
	}
	s.accounts[acct.ID] = acct
	s.identities[id.Key()] = identityLink{accountID: acct.ID, identity: id}
	return acct, true, nil
}

func (s *AccountStore) Link(_ context.Context, accountID uuid.UUID, id wallet.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return account.ErrNotFound
	}
	if link, ok := s.identities[id.Key()]; ok {
		if link.accountID == accountID {
			return nil
		}
		return account.ErrWalletLinked
	}
	s.identities[id.Key()] = identityLink{accountID: accountID, identity: id}
	return nil
}

func (s *AccountStore) Unlink(_ context.Context, accountID uuid.UUID, id wallet.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.identities[id.Key()]
	if !ok || link.accountID != accountID {
		return account.ErrNotFound
	}
	remaining := 0
	for _, l := range s.identities {
		if l.accountID == accountID {
			remaining++
		}
	}
	if remaining == 1 {
		return account.ErrLastIdentity
	}
	delete(s.identities, id.Key())
	return nil
}

func (s *AccountStore) Get(_ context.Context, accountID uuid.UUID) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return acct, nil
}

func (s *AccountStore) ListIdentities(_ context.Context, accountID uuid.UUID) ([]wallet.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, account.ErrNotFound
	}
	var out []wallet.Identity
	for _, link := range s.identities {
		if link.accountID == accountID {
			out = append(out, link.identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}
