// Package account defines the account record wallet identities attach
// to and the store contract backends implement.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/coinwatch/walletauth/wallet"
)

var (
	ErrNotFound     = errors.New("account not found")
	ErrWalletLinked = errors.New("wallet identity already linked to another account")
	ErrLastIdentity = errors.New("cannot unlink the only identity of an account")
)

// Account is a user record. Wallet-created accounts carry a synthetic
// contact address and an unguessable password hash so they satisfy the
// same schema as password accounts without ever being signable-in by
// password.
type Account struct {
	ID             uuid.UUID `json:"id"`
	PrimaryContact string    `json:"primary_contact"`
	PasswordHash   string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	LastLoginAt    time.Time `json:"last_login_at"`
}

// Store is the persistence contract for accounts and their linked
// wallet identities. Resolve must be safe under concurrent calls for
// the same identity: all callers end up with the same account.
type Store interface {
	// Resolve finds the account owning the identity, creating one if
	// none exists, and records the login time. created reports whether
	// this call created the account.
	Resolve(ctx context.Context, id wallet.Identity, now time.Time) (acct Account, created bool, err error)
	// Link attaches an identity to an existing account. It returns
	// ErrWalletLinked when the identity belongs to a different account
	// and is a no-op when it already belongs to this one.
	Link(ctx context.Context, accountID uuid.UUID, id wallet.Identity) error
	// Unlink detaches an identity. The last identity of an account
	// cannot be removed.
	Unlink(ctx context.Context, accountID uuid.UUID, id wallet.Identity) error
	Get(ctx context.Context, accountID uuid.UUID) (Account, error)
	ListIdentities(ctx context.Context, accountID uuid.UUID) ([]wallet.Identity, error)
}

// PlaceholderContact derives the synthetic contact address for a
// wallet-created account.
func PlaceholderContact(id wallet.Identity) string {
	return id.Address + "@wallet.local"
}

// PlaceholderPasswordHash returns a bcrypt hash of 32 random bytes.
// Nobody ever knows the plaintext, so the account cannot be entered
// through the password path.
func PlaceholderPasswordHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate placeholder password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash placeholder password: %w", err)
	}
	return string(hash), nil
}

// New assembles a fresh account record for a wallet identity.
func New(id wallet.Identity, now time.Time) (Account, error) {
	hash, err := PlaceholderPasswordHash()
	if err != nil {
		return Account{}, err
	}
	return Account{
		ID:             uuid.New(),
		PrimaryContact: PlaceholderContact(id),
		PasswordHash:   hash,
		CreatedAt:      now,
		LastLoginAt:    now,
	}, nil
}
