// Package signin implements the canonical sign-in message: the exact,
// deterministic plain-text serialization a wallet signs, and the strict
// parser that recovers its fields. The layout follows the EIP-4361 /
// Solana wallet-standard line grammar.
//
// Construction and parsing are deliberately separate entry points: Build
// accepts a Fields value and nothing else, Parse accepts raw text and
// nothing else. There is no constructor that guesses which of the two it
// was given.
package signin

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/coinwatch/walletauth/wallet"
)

// Version is the protocol version tag written into every message.
const Version = "1"

var (
	ErrMessageTooShort    = errors.New("message has too few lines")
	ErrInvalidHeader      = errors.New("invalid header line")
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrInvalidAddress     = errors.New("invalid address for wallet family")
	ErrBadLayout          = errors.New("message does not match the canonical layout")
	ErrInvalidURI         = errors.New("invalid URI")
	ErrUnsupportedVersion = errors.New("unsupported message version")
	ErrInvalidChainID     = errors.New("invalid chain identifier")
	ErrInvalidNonce       = errors.New("invalid nonce")
	ErrInvalidIssuedAt    = errors.New("invalid issued-at timestamp")
	ErrInvalidExpiration  = errors.New("invalid expiration timestamp")
	ErrMissingIssuedAt    = errors.New("missing issued-at timestamp")
	ErrMultilineField     = errors.New("field contains a line break")
	ErrForbiddenRune      = errors.New("field contains forbidden characters")
)

var noncePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,256}$`)

// Fields is the structured form of a sign-in message. All values are
// plain data; Build validates and sanitizes them before any text is
// produced.
type Fields struct {
	Domain         string
	Family         wallet.Family
	Address        string
	Statement      string
	URI            string
	ChainID        string
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time // zero means no expiration line
}

// Message is a validated sign-in message. It serializes byte-identically
// for identical fields, which is what makes the signature binding sound.
type Message struct {
	Fields
}

// Chain returns the family-scoped chain reference the message claims.
func (m *Message) Chain() wallet.Chain {
	return wallet.Chain{Family: m.Family, ID: m.ChainID}
}

func familyNoun(f wallet.Family) (string, error) {
	switch f {
	case wallet.FamilyEVM:
		return "Ethereum", nil
	case wallet.FamilySolana:
		return "Solana", nil
	default:
		return "", fmt.Errorf("%w: %q", wallet.ErrUnsupportedFamily, f)
	}
}

const headerFormat = "%s wants you to sign in with your %s account:"

// Build validates and sanitizes fields and returns the canonical message.
// A field containing a literal line break is rejected, not repaired.
func Build(f Fields) (*Message, error) {
	for _, v := range []string{f.Domain, f.Address, f.Statement, f.URI, f.ChainID, f.Nonce} {
		if strings.ContainsAny(v, "\r\n\u2028\u2029") {
			return nil, ErrMultilineField
		}
	}

	f.Domain = Sanitize(f.Domain)
	f.Statement = Sanitize(f.Statement)
	f.URI = Sanitize(f.URI)
	f.ChainID = Sanitize(f.ChainID)
	f.Nonce = Sanitize(f.Nonce)

	if !isHost(f.Domain) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, f.Domain)
	}
	addr, err := wallet.NormalizeAddress(f.Family, Sanitize(f.Address))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	f.Address = addr
	if err := validateURI(f.URI); err != nil {
		return nil, err
	}
	if err := (wallet.Chain{Family: f.Family, ID: f.ChainID}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
	}
	if !noncePattern.MatchString(f.Nonce) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNonce, f.Nonce)
	}
	if f.IssuedAt.IsZero() {
		return nil, ErrMissingIssuedAt
	}
	f.IssuedAt = f.IssuedAt.UTC().Truncate(time.Second)
	if !f.ExpirationTime.IsZero() {
		f.ExpirationTime = f.ExpirationTime.UTC().Truncate(time.Second)
		if f.ExpirationTime.Before(f.IssuedAt) {
			return nil, ErrInvalidExpiration
		}
	}

	return &Message{Fields: f}, nil
}

// String renders the canonical multi-line text. Identical fields always
// produce byte-identical output.
func (m *Message) String() string {
	noun, _ := familyNoun(m.Family)

	var b strings.Builder
	fmt.Fprintf(&b, headerFormat, m.Domain, noun)
	b.WriteByte('\n')
	b.WriteString(m.Address)
	b.WriteString("\n\n")
	if m.Statement != "" {
		b.WriteString(m.Statement)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", Version)
	fmt.Fprintf(&b, "Chain ID: %s\n", m.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", m.IssuedAt.Format(time.RFC3339))
	if !m.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", m.ExpirationTime.Format(time.RFC3339))
	}
	return b.String()
}

func isHost(domain string) bool {
	if domain == "" || strings.ContainsAny(domain, " \t/@?#") {
		return false
	}
	host := domain
	if i := strings.LastIndex(domain, ":"); i >= 0 {
		host = domain[:i]
		port := domain[i+1:]
		if port == "" || strings.Trim(port, "0123456789") != "" {
			return false
		}
	}
	return host != "" && !strings.HasPrefix(host, ".") && !strings.HasSuffix(host, ".")
}

func validateURI(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}
	return nil
}
