// Package redisstore implements the storage contracts on Redis for
// multi-node deployments.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinwatch/walletauth/challenge"
)

const (
	challengeKeyPrefix = "walletauth:challenge:"
	consumedKeyPrefix  = "walletauth:challenge:used:"

	// Entries outlive their expiry by this much so a late consume is
	// reported as expired instead of unknown, and a replay after
	// consumption is reported as consumed.
	retentionGrace = time.Hour
)

// ChallengeStore keeps challenges in Redis. Atomicity of Consume comes
// from GETDEL: only one caller receives the value.
type ChallengeStore struct {
	client redis.UniversalClient

	now func() time.Time
}

func NewChallengeStore(client redis.UniversalClient) *ChallengeStore {
	return &ChallengeStore{client: client, now: time.Now}
}

func (s *ChallengeStore) Put(ctx context.Context, ch challenge.Challenge) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	ttl := time.Until(ch.ExpiresAt) + retentionGrace
	if err := s.client.Set(ctx, challengeKeyPrefix+ch.Nonce, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Consume(ctx context.Context, nonce string) (challenge.Challenge, error) {
	payload, err := s.client.GetDel(ctx, challengeKeyPrefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		used, existsErr := s.client.Exists(ctx, consumedKeyPrefix+nonce).Result()
		if existsErr != nil {
			return challenge.Challenge{}, fmt.Errorf("consumed marker lookup: %w", existsErr)
		}
		if used > 0 {
			return challenge.Challenge{}, challenge.ErrConsumed
		}
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}

	var ch challenge.Challenge
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		return challenge.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if s.now().After(ch.ExpiresAt) {
		return challenge.Challenge{}, challenge.ErrExpired
	}
	if err := s.client.Set(ctx, consumedKeyPrefix+nonce, "1", retentionGrace).Err(); err != nil {
		return challenge.Challenge{}, fmt.Errorf("record consumed marker: %w", err)
	}
	return ch, nil
}

// Sweep is a no-op: Redis key expiry reclaims entries and markers.
func (s *ChallengeStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
