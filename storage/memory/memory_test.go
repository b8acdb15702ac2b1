package memorystore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/challenge"
	"github.com/coinwatch/walletauth/wallet"
)

func testChallenge(nonce string, ttl time.Duration, at time.Time) challenge.Challenge {
	return challenge.Challenge{
		Nonce:     nonce,
		IssuedAt:  at,
		ExpiresAt: at.Add(ttl),
	}
}

func TestChallengeConsumeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewChallengeStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	require.NoError(t, s.Put(ctx, testChallenge("nonce-one", time.Minute, at)))

	ch, err := s.Consume(ctx, "nonce-one")
	require.NoError(t, err)
	require.Equal(t, "nonce-one", ch.Nonce)

	_, err = s.Consume(ctx, "nonce-one")
	require.ErrorIs(t, err, challenge.ErrConsumed)

	_, err = s.Consume(ctx, "never-issued")
	require.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestChallengeExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewChallengeStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := at
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, testChallenge("short-lived", time.Minute, at)))

	now = at.Add(2 * time.Minute)
	_, err := s.Consume(ctx, "short-lived")
	require.ErrorIs(t, err, challenge.ErrExpired)

	removed, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	// After the sweep the nonce is simply unknown.
	_, err = s.Consume(ctx, "short-lived")
	require.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestChallengeConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	s := NewChallengeStore()
	at := time.Now().UTC()
	require.NoError(t, s.Put(ctx, testChallenge("contended", time.Minute, at)))

	const attempts = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "contended"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	require.Len(t, wins, 1, "exactly one consumer may win")
}

func identityEVM(t *testing.T, address string) wallet.Identity {
	t.Helper()
	id, err := wallet.NewIdentity(wallet.Chain{Family: wallet.FamilyEVM, ID: "1"}, address)
	require.NoError(t, err)
	return id
}

func TestAccountResolve(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	id := identityEVM(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	acct, created, err := s.Resolve(ctx, id, now)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "0xab5801a7d398351b8be11c439e05c5b3259aec9b@wallet.local", acct.PrimaryContact)
	require.NotEmpty(t, acct.PasswordHash)

	later := now.Add(time.Hour)
	again, created, err := s.Resolve(ctx, id, later)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, acct.ID, again.ID)
	require.Equal(t, later, again.LastLoginAt)
}

func TestAccountResolveConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	id := identityEVM(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")

	const callers = 16
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acct, _, err := s.Resolve(ctx, id, time.Now())
			require.NoError(t, err)
			ids <- acct.ID.String()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for aid := range ids {
		seen[aid] = true
	}
	require.Len(t, seen, 1, "all concurrent resolvers must land on the same account")
}

func TestAccountLinkUnlink(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	now := time.Now()

	first := identityEVM(t, "0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	second, err := wallet.NewIdentity(wallet.Chain{Family: wallet.FamilyEVM, ID: "137"}, "0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	require.NoError(t, err)

	acct, _, err := s.Resolve(ctx, first, now)
	require.NoError(t, err)

	require.NoError(t, s.Link(ctx, acct.ID, second))
	require.NoError(t, s.Link(ctx, acct.ID, second), "relinking to the same account is a no-op")

	other, _, err := s.Resolve(ctx, identityEVM(t, "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"), now)
	require.NoError(t, err)
	require.ErrorIs(t, s.Link(ctx, other.ID, second), account.ErrWalletLinked)

	linked, err := s.ListIdentities(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)

	require.NoError(t, s.Unlink(ctx, acct.ID, second))
	require.ErrorIs(t, s.Unlink(ctx, acct.ID, first), account.ErrLastIdentity)
	require.ErrorIs(t, s.Unlink(ctx, acct.ID, second), account.ErrNotFound)
}

func TestRevocationStore(t *testing.T) {
	ctx := context.Background()
	s := NewRevocationStore()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := at
	s.now = func() time.Time { return now }

	revoked, err := s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "rid-1", time.Hour))
	revoked, err = s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.True(t, revoked)

	now = at.Add(2 * time.Hour)
	revoked, err = s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.False(t, revoked, "revocation marker lapses with the token")
}
