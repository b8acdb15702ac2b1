package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "walletauth:revoked:"

// RevocationStore records revoked refresh token identifiers with a TTL
// matching the remaining token lifetime.
type RevocationStore struct {
	client redis.UniversalClient
}

func NewRevocationStore(client redis.UniversalClient) *RevocationStore {
	return &RevocationStore{client: client}
}

func (s *RevocationStore) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, revokedKeyPrefix+id, "1", ttl).Err(); err != nil {
		return fmt.Errorf("record revocation: %w", err)
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n > 0, nil
}
