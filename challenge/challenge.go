// Package challenge issues and consumes single-use sign-in nonces.
//
// A nonce is handed out before authentication starts and must be
// presented back inside the signed message. Consumption is atomic: of
// any number of concurrent attempts with the same nonce, exactly one
// succeeds and the rest observe ErrConsumed. Stores keep consumed
// markers around until the sweep so that a replayed nonce is reported
// as consumed rather than unknown.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("challenge not found")
	ErrExpired  = errors.New("challenge expired")
	ErrConsumed = errors.New("challenge already consumed")
)

// Challenge is an issued nonce and its validity window. Hint optionally
// records the wallet address announced when the challenge was requested;
// it is advisory and never enforced at consume time.
type Challenge struct {
	Nonce     string
	Hint      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Store persists challenges. Implementations must make Consume atomic
// across concurrent callers.
type Store interface {
	Put(ctx context.Context, ch Challenge) error
	// Consume removes the challenge and returns it. It reports
	// ErrNotFound for unknown nonces, ErrExpired for known-but-stale
	// ones, and ErrConsumed when a previous call already won.
	Consume(ctx context.Context, nonce string) (Challenge, error)
	// Sweep drops expired challenges and stale consumed markers,
	// returning how many entries were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

const nonceBytes = 32

// NewNonce returns a fresh 256-bit nonce in URL-safe base64 without
// padding.
func NewNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issuer mints challenges into a Store with a fixed TTL.
type Issuer struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewIssuer returns an Issuer. A non-positive ttl falls back to five
// minutes.
func NewIssuer(store Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Issuer{store: store, ttl: ttl, now: time.Now}
}

// Issue creates, stores and returns a new challenge. hint may be empty.
func (i *Issuer) Issue(ctx context.Context, hint string) (Challenge, error) {
	nonce, err := NewNonce()
	if err != nil {
		return Challenge{}, err
	}
	now := i.now().UTC().Truncate(time.Second)
	ch := Challenge{
		Nonce:     nonce,
		Hint:      hint,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.Put(ctx, ch); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return ch, nil
}

// Consume redeems a nonce through the underlying store.
func (i *Issuer) Consume(ctx context.Context, nonce string) (Challenge, error) {
	return i.store.Consume(ctx, nonce)
}

// Sweep removes expired entries from the underlying store.
func (i *Issuer) Sweep(ctx context.Context) (int, error) {
	return i.store.Sweep(ctx, i.now())
}

// TTL reports the configured challenge lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }
