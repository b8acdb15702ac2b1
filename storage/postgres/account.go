// Package pgstore implements the account store on PostgreSQL.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/wallet"
)

// AccountStore persists accounts and wallet identity links. The unique
// primary key on wallet_identities.identity_key is what makes
// concurrent find-or-create safe: the loser's insert conflicts and it
// re-reads the winner's row.
type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              UUID PRIMARY KEY,
	primary_contact TEXT NOT NULL,
	password_hash   TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	last_login_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS wallet_identities (
	identity_key TEXT PRIMARY KEY,
	account_id   UUID NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
	family       TEXT NOT NULL,
	chain_id     TEXT NOT NULL,
	address      TEXT NOT NULL,
	linked_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS wallet_identities_account_id_idx
	ON wallet_identities (account_id);
`

// EnsureSchema creates the tables if they do not exist.
func (s *AccountStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *AccountStore) Resolve(ctx context.Context, id wallet.Identity, now time.Time) (account.Account, bool, error) {
	if acct, err := s.findByIdentity(ctx, id, now); err == nil {
		return acct, false, nil
	} else if !errors.Is(err, account.ErrNotFound) {
		return account.Account{}, false, err
	}

	acct, err := account.New(id, now)
	if err != nil {
		return account.Account{}, false, err
	}

	created, err := s.tryCreate(ctx, acct, id, now)
	if err != nil {
		return account.Account{}, false, err
	}
	if created {
		return acct, true, nil
	}

	// Lost the race: another caller linked the identity first.
	winner, err := s.findByIdentity(ctx, id, now)
	if err != nil {
		return account.Account{}, false, err
	}
	return winner, false, nil
}

func (s *AccountStore) findByIdentity(ctx context.Context, id wallet.Identity, now time.Time) (account.Account, error) {
	var acct account.Account
	err := s.pool.QueryRow(ctx, `
		UPDATE accounts
		SET last_login_at = $2
		WHERE id = (SELECT account_id FROM wallet_identities WHERE identity_key = $1)
		RETURNING id, primary_contact, password_hash, created_at, last_login_at`,
		id.Key(), now,
	).Scan(&acct.ID, &acct.PrimaryContact, &acct.PasswordHash, &acct.CreatedAt, &acct.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("find account by identity: %w", err)
	}
	return acct, nil
}

func (s *AccountStore) tryCreate(ctx context.Context, acct account.Account, id wallet.Identity, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, primary_contact, password_hash, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5)`,
		acct.ID, acct.PrimaryContact, acct.PasswordHash, acct.CreatedAt, acct.LastLoginAt,
	); err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO wallet_identities (identity_key, account_id, family, chain_id, address, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_key) DO NOTHING`,
		id.Key(), acct.ID, string(id.Chain.Family), id.Chain.ID, id.Address, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Conflict: roll back the orphan account row.
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *AccountStore) Link(ctx context.Context, accountID uuid.UUID, id wallet.Identity) error {
	if _, err := s.Get(ctx, accountID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_identities (identity_key, account_id, family, chain_id, address, linked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_key) DO NOTHING`,
		id.Key(), accountID, string(id.Chain.Family), id.Chain.ID, id.Address, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var owner uuid.UUID
	err = s.pool.QueryRow(ctx,
		`SELECT account_id FROM wallet_identities WHERE identity_key = $1`, id.Key(),
	).Scan(&owner)
	if err != nil {
		return fmt.Errorf("lookup identity owner: %w", err)
	}
	if owner == accountID {
		return nil
	}
	return account.ErrWalletLinked
}

func (s *AccountStore) Unlink(ctx context.Context, accountID uuid.UUID, id wallet.Identity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var remaining int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_identities WHERE account_id = $1`, accountID,
	).Scan(&remaining); err != nil {
		return fmt.Errorf("count identities: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM wallet_identities WHERE identity_key = $1 AND account_id = $2`,
		id.Key(), accountID,
	)
	if err != nil {
		return fmt.Errorf("unlink identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrNotFound
	}
	if remaining <= 1 {
		return account.ErrLastIdentity
	}
	return tx.Commit(ctx)
}

func (s *AccountStore) Get(ctx context.Context, accountID uuid.UUID) (account.Account, error) {
	var acct account.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id, primary_contact, password_hash, created_at, last_login_at
		FROM accounts WHERE id = $1`, accountID,
	).Scan(&acct.ID, &acct.PrimaryContact, &acct.PasswordHash, &acct.CreatedAt, &acct.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.Account{}, account.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func (s *AccountStore) ListIdentities(ctx context.Context, accountID uuid.UUID) ([]wallet.Identity, error) {
	if _, err := s.Get(ctx, accountID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT family, chain_id, address
		FROM wallet_identities
		WHERE account_id = $1
		ORDER BY identity_key`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []wallet.Identity
	for rows.Next() {
		var family, chainID, address string
		if err := rows.Scan(&family, &chainID, &address); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, wallet.Identity{
			Chain:   wallet.Chain{Family: wallet.Family(family), ID: chainID},
			Address: address,
		})
	}
	return out, rows.Err()
}
