// Package token issues and verifies the ES256 session credentials
// handed out after a successful wallet sign-in: a short-lived access
// token and a rotating refresh token, with the public key published as
// a JWKS document.
package token

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/coinwatch/walletauth/wallet"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Audience tags distinguish the two token kinds so one can never be
// presented where the other is expected.
const (
	AudienceAccess  = "session:access"
	AudienceRefresh = "session:refresh"
)

// Claims is the payload of both token kinds. Wallet and Chain identify
// the signing identity; RefreshID ties an access token to the refresh
// token it was issued alongside.
type Claims struct {
	jwt.RegisteredClaims
	Wallet    string `json:"wallet,omitempty"`
	Chain     string `json:"chain,omitempty"`
	RefreshID string `json:"rid,omitempty"`
}

// RevocationStore remembers revoked refresh token identifiers until
// they would have expired anyway.
type RevocationStore interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// Session is the credential pair returned to a client.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Issuer signs tokens with a single ES256 key.
type Issuer struct {
	key        *ecdsa.PrivateKey
	keyID      string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	revoked    RevocationStore
	jwks       jwk.Set

	now func() time.Time
}

// NewIssuer builds an Issuer. The key ID is the RFC 7638 thumbprint of
// the public key, so the JWKS entry and the JOSE header always agree.
func NewIssuer(key *ecdsa.PrivateKey, issuer string, accessTTL, refreshTTL time.Duration, revoked RevocationStore) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("token: signing key is required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	pub, err := jwk.FromRaw(key.Public())
	if err != nil {
		return nil, fmt.Errorf("token: build public jwk: %w", err)
	}
	if err := jwk.AssignKeyID(pub); err != nil {
		return nil, fmt.Errorf("token: assign key id: %w", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.ES256); err != nil {
		return nil, err
	}
	if err := pub.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("token: assemble jwks: %w", err)
	}

	return &Issuer{
		key:        key,
		keyID:      pub.KeyID(),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		revoked:    revoked,
		jwks:       set,
		now:        time.Now,
	}, nil
}

// IssueSession mints a fresh access/refresh pair for an account signed
// in with the given identity.
func (i *Issuer) IssueSession(ctx context.Context, accountID uuid.UUID, id wallet.Identity) (Session, error) {
	return i.issue(accountID.String(), id.Address, id.Chain.String())
}

func (i *Issuer) issue(subject, walletAddr, chain string) (Session, error) {
	now := i.now()
	rid := uuid.NewString()

	access := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{AudienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		Wallet:    walletAddr,
		Chain:     chain,
		RefreshID: rid,
	}
	refresh := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rid,
			Issuer:    i.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{AudienceRefresh},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
		Wallet: walletAddr,
		Chain:  chain,
	}

	accessToken, err := i.sign(access)
	if err != nil {
		return Session{}, err
	}
	refreshToken, err := i.sign(refresh)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *Issuer) sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = i.keyID
	signed, err := t.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// new session pair is issued. A revoked or expired token yields an
// error and nothing is issued.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	claims, err := i.parse(refreshToken, AudienceRefresh)
	if err != nil {
		return Session{}, err
	}

	revoked, err := i.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("token: revocation lookup: %w", err)
	}
	if revoked {
		return Session{}, ErrTokenRevoked
	}
	if err := i.revoked.Revoke(ctx, claims.ID, i.remainingTTL(claims)); err != nil {
		return Session{}, fmt.Errorf("token: revoke rotated token: %w", err)
	}

	return i.issue(claims.Subject, claims.Wallet, claims.Chain)
}

// Revoke invalidates a refresh token ahead of its expiry and returns
// its claims so callers can tell whose session ended.
func (i *Issuer) Revoke(ctx context.Context, refreshToken string) (*Claims, error) {
	claims, err := i.parse(refreshToken, AudienceRefresh)
	if err != nil {
		return nil, err
	}
	if err := i.revoked.Revoke(ctx, claims.ID, i.remainingTTL(claims)); err != nil {
		return nil, fmt.Errorf("token: revoke: %w", err)
	}
	return claims, nil
}

// VerifyAccess validates an access token and returns its claims.
func (i *Issuer) VerifyAccess(_ context.Context, accessToken string) (*Claims, error) {
	return i.parse(accessToken, AudienceAccess)
}

func (i *Issuer) parse(raw, audience string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return &i.key.PublicKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

func (i *Issuer) remainingTTL(claims *Claims) time.Duration {
	if claims.ExpiresAt == nil {
		return i.refreshTTL
	}
	ttl := claims.ExpiresAt.Time.Sub(i.now())
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// JWKS returns the public key set for token verification by third
// parties.
func (i *Issuer) JWKS() jwk.Set { return i.jwks }

// AccessTTL reports the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }
