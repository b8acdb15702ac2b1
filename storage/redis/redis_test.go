package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/coinwatch/walletauth/challenge"
)

func testClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func putChallenge(t *testing.T, s *ChallengeStore, nonce string, ttl time.Duration) challenge.Challenge {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	ch := challenge.Challenge{Nonce: nonce, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	require.NoError(t, s.Put(context.Background(), ch))
	return ch
}

func TestChallengeConsumeOnce(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	s := NewChallengeStore(client)

	want := putChallenge(t, s, "nonce-one", time.Minute)

	got, err := s.Consume(ctx, "nonce-one")
	require.NoError(t, err)
	require.Equal(t, want.Nonce, got.Nonce)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt))

	_, err = s.Consume(ctx, "nonce-one")
	require.ErrorIs(t, err, challenge.ErrConsumed)

	_, err = s.Consume(ctx, "never-issued")
	require.ErrorIs(t, err, challenge.ErrNotFound)
}

func TestChallengeExpired(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	s := NewChallengeStore(client)

	putChallenge(t, s, "stale", time.Minute)
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := s.Consume(ctx, "stale")
	require.ErrorIs(t, err, challenge.ErrExpired)
}

func TestChallengeEntryReclaimed(t *testing.T) {
	ctx := context.Background()
	mr, client := testClient(t)
	s := NewChallengeStore(client)

	putChallenge(t, s, "reclaimed", time.Minute)
	mr.FastForward(time.Minute + retentionGrace + time.Second)

	_, err := s.Consume(ctx, "reclaimed")
	require.ErrorIs(t, err, challenge.ErrNotFound, "after the retention window the nonce is unknown")
}

func TestChallengeConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	s := NewChallengeStore(client)

	putChallenge(t, s, "contended", time.Minute)

	const attempts = 16
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
	require.Len(t, wins, 1, "GETDEL admits exactly one winner")
}

func TestRevocationStore(t *testing.T) {
	ctx := context.Background()
	mr, client := testClient(t)
	s := NewRevocationStore(client)

	revoked, err := s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, s.Revoke(ctx, "rid-1", time.Hour))
	revoked, err = s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.True(t, revoked)

	mr.FastForward(2 * time.Hour)
	revoked, err = s.IsRevoked(ctx, "rid-1")
	require.NoError(t, err)
	require.False(t, revoked)
}
