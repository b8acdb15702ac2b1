// Package core orchestrates the wallet sign-in flow: challenge
// issuance, message verification, account resolution and session
// management. The verification pipeline runs its checks in a fixed
// order so that cheap policy rejections never burn a nonce, while a
// failed signature after the nonce was consumed leaves it burned.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/challenge"
	"github.com/coinwatch/walletauth/events"
	"github.com/coinwatch/walletauth/policy"
	"github.com/coinwatch/walletauth/signin"
	"github.com/coinwatch/walletauth/token"
	"github.com/coinwatch/walletauth/wallet"
)

// Options collects the collaborators a Service needs.
type Options struct {
	Policy     *policy.Policy
	Challenges *challenge.Issuer
	Accounts   account.Store
	Tokens     *token.Issuer
	Events     events.Publisher
	Logger     *slog.Logger

	// Contracts, when set, is consulted for EVM signatures that fail
	// plain recovery (EIP-1271 wallets).
	Contracts wallet.ContractVerifier
}

// Service is safe for concurrent use.
type Service struct {
	policy     *policy.Policy
	challenges *challenge.Issuer
	accounts   account.Store
	tokens     *token.Issuer
	events     events.Publisher
	log        *slog.Logger
	contracts  wallet.ContractVerifier

	now func() time.Time
}

func New(opts Options) (*Service, error) {
	switch {
	case opts.Policy == nil:
		return nil, errors.New("core: policy is required")
	case opts.Challenges == nil:
		return nil, errors.New("core: challenge issuer is required")
	case opts.Accounts == nil:
		return nil, errors.New("core: account store is required")
	case opts.Tokens == nil:
		return nil, errors.New("core: token issuer is required")
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		policy:     opts.Policy,
		challenges: opts.Challenges,
		accounts:   opts.Accounts,
		tokens:     opts.Tokens,
		events:     opts.Events,
		log:        opts.Logger,
		contracts:  opts.Contracts,
		now:        time.Now,
	}, nil
}

// Challenge issues a fresh nonce. hint is an optional wallet address
// the client announces up front; it feeds logging and metrics only and
// never gates issuance, so a junk hint is dropped rather than rejected.
func (s *Service) Challenge(ctx context.Context, hint string) (challenge.Challenge, error) {
	if hint != "" && !wallet.ValidAddress(wallet.FamilyEVM, hint) && !wallet.ValidAddress(wallet.FamilySolana, hint) {
		s.log.Debug("discarding malformed wallet hint", "hint", hint)
		hint = ""
	}
	ch, err := s.challenges.Issue(ctx, hint)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("issue challenge: %w", err)
	}
	return ch, nil
}

// Result is the outcome of a successful verification.
type Result struct {
	Account  account.Account
	Created  bool
	Identity wallet.Identity
	Session  token.Session
}

// Verify runs the full sign-in pipeline over a submitted message text
// and signature. The signature is checked over the exact bytes the
// client submitted, never over a re-serialization.
func (s *Service) Verify(ctx context.Context, messageText, signature string) (*Result, error) {
	identity, msg, err := s.authenticate(ctx, messageText, signature)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	acct, created, err := s.accounts.Resolve(ctx, identity, now)
	if err != nil {
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	sess, err := s.tokens.IssueSession(ctx, acct.ID, identity)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	ev := events.SignIn{
		AccountID: acct.ID.String(),
		Wallet:    identity.Address,
		Chain:     identity.Chain.String(),
		Created:   created,
		At:        now,
	}
	if err := s.events.SignIn(ctx, ev); err != nil {
		s.log.Warn("sign-in event not published", "error", err)
	}

	s.log.Info("wallet sign-in",
		"account_id", acct.ID,
		"identity", identity.Key(),
		"created", created,
		"nonce", msg.Nonce,
	)
	return &Result{Account: acct, Created: created, Identity: identity, Session: sess}, nil
}

// Link verifies a sign-in message for a second wallet and attaches its
// identity to an existing account. The full pipeline runs, so linking
// consumes a nonce like any sign-in.
func (s *Service) Link(ctx context.Context, accountID uuid.UUID, messageText, signature string) (wallet.Identity, error) {
	identity, _, err := s.authenticate(ctx, messageText, signature)
	if err != nil {
		return wallet.Identity{}, err
	}

	switch err := s.accounts.Link(ctx, accountID, identity); {
	case errors.Is(err, account.ErrWalletLinked):
		return wallet.Identity{}, reject(ReasonWalletLinked, err)
	case err != nil:
		return wallet.Identity{}, fmt.Errorf("link identity: %w", err)
	}

	s.log.Info("wallet linked", "account_id", accountID, "identity", identity.Key())
	return identity, nil
}

// Unlink detaches a wallet from an account.
func (s *Service) Unlink(ctx context.Context, accountID uuid.UUID, chain wallet.Chain, address string) error {
	identity, err := wallet.NewIdentity(chain, address)
	if err != nil {
		return reject(ReasonMalformedMessage, err)
	}
	if err := s.accounts.Unlink(ctx, accountID, identity); err != nil {
		return fmt.Errorf("unlink identity: %w", err)
	}
	s.log.Info("wallet unlinked", "account_id", accountID, "identity", identity.Key())
	return nil
}

// authenticate runs parse, policy, nonce and signature checks and
// returns the proven identity.
func (s *Service) authenticate(ctx context.Context, messageText, signature string) (wallet.Identity, *signin.Message, error) {
	msg, err := signin.Parse(messageText)
	if err != nil {
		return wallet.Identity{}, nil, reject(ReasonMalformedMessage, err)
	}

	if err := s.policy.CheckDomain(msg.Domain); err != nil {
		return wallet.Identity{}, nil, reject(ReasonDomainMismatch, err)
	}
	if err := s.policy.CheckChain(msg.Chain()); err != nil {
		return wallet.Identity{}, nil, reject(ReasonChainNotAllowed, err)
	}
	if !msg.ExpirationTime.IsZero() && s.now().After(msg.ExpirationTime) {
		return wallet.Identity{}, nil, reject(ReasonMessageExpired,
			fmt.Errorf("message expired at %s", msg.ExpirationTime.Format(time.RFC3339)))
	}

	if _, err := s.challenges.Consume(ctx, msg.Nonce); err != nil {
		switch {
		case errors.Is(err, challenge.ErrNotFound):
			return wallet.Identity{}, nil, reject(ReasonNonceNotFound, err)
		case errors.Is(err, challenge.ErrExpired):
			return wallet.Identity{}, nil, reject(ReasonNonceExpired, err)
		case errors.Is(err, challenge.ErrConsumed):
			return wallet.Identity{}, nil, reject(ReasonNonceConsumed, err)
		default:
			return wallet.Identity{}, nil, fmt.Errorf("consume challenge: %w", err)
		}
	}

	// The nonce is burned from here on, even if the signature fails.
	if err := s.verifySignature(msg, messageText, signature); err != nil {
		return wallet.Identity{}, nil, err
	}

	identity, err := wallet.NewIdentity(msg.Chain(), msg.Address)
	if err != nil {
		return wallet.Identity{}, nil, reject(ReasonMalformedMessage, err)
	}
	return identity, msg, nil
}

func (s *Service) verifySignature(msg *signin.Message, messageText, signature string) error {
	var verifier wallet.Verifier
	switch msg.Family {
	case wallet.FamilyEVM:
		verifier = wallet.EVMVerifier{Contracts: s.contracts}
	default:
		v, err := wallet.ForFamily(msg.Family)
		if err != nil {
			return reject(ReasonMalformedMessage, err)
		}
		verifier = v
	}

	switch err := verifier.Verify([]byte(messageText), signature, msg.Address); {
	case errors.Is(err, wallet.ErrMalformedSignature):
		return reject(ReasonMalformedSignature, err)
	case err != nil:
		return reject(ReasonSignatureMismatch, err)
	}
	return nil
}

// Refresh rotates a refresh token into a new session pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (token.Session, error) {
	sess, err := s.tokens.Refresh(ctx, refreshToken)
	switch {
	case errors.Is(err, token.ErrTokenRevoked):
		return token.Session{}, reject(ReasonTokenRevoked, err)
	case errors.Is(err, token.ErrInvalidToken):
		return token.Session{}, reject(ReasonInvalidToken, err)
	case err != nil:
		return token.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

// Logout revokes a refresh token and announces the sign-out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.Revoke(ctx, refreshToken)
	if errors.Is(err, token.ErrInvalidToken) {
		return reject(ReasonInvalidToken, err)
	}
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	ev := events.SignOut{AccountID: claims.Subject, At: s.now().UTC()}
	if err := s.events.SignOut(ctx, ev); err != nil {
		s.log.Warn("sign-out event not published", "error", err)
	}
	return nil
}

// JWKS exposes the public key set access tokens verify against.
func (s *Service) JWKS() jwk.Set { return s.tokens.JWKS() }

// VerifyAccess validates an access token for the HTTP middleware.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	claims, err := s.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, reject(ReasonInvalidToken, err)
	}
	return claims, nil
}

// Profile is an account together with its linked identities.
type Profile struct {
	Account    account.Account
	Identities []wallet.Identity
}

// Me loads the profile behind an access token subject.
func (s *Service) Me(ctx context.Context, accountID uuid.UUID) (*Profile, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	ids, err := s.accounts.ListIdentities(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return &Profile{Account: acct, Identities: ids}, nil
}

// SweepChallenges drops expired challenges; wired to the cron schedule
// in the daemon.
func (s *Service) SweepChallenges(ctx context.Context) {
	removed, err := s.challenges.Sweep(ctx)
	if err != nil {
		s.log.Error("challenge sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Debug("challenge sweep", "removed", removed)
	}
}
