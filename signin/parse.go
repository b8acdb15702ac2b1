package signin

import (
	"fmt"
	"strings"
	"time"

	"github.com/coinwatch/walletauth/wallet"
)

const (
	headerSuffixEVM    = " wants you to sign in with your Ethereum account:"
	headerSuffixSolana = " wants you to sign in with your Solana account:"
)

// Parse recovers the structured fields from a submitted message text.
// The input must match the canonical layout exactly: fixed header, fixed
// field order, fixed separators. Anything else is rejected; there is no
// permissive fallback mode.
func Parse(text string) (*Message, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 8 {
		return nil, ErrMessageTooShort
	}

	var f Fields
	switch {
	case strings.HasSuffix(lines[0], headerSuffixEVM):
		f.Family = wallet.FamilyEVM
		f.Domain = strings.TrimSuffix(lines[0], headerSuffixEVM)
	case strings.HasSuffix(lines[0], headerSuffixSolana):
		f.Family = wallet.FamilySolana
		f.Domain = strings.TrimSuffix(lines[0], headerSuffixSolana)
	default:
		return nil, ErrInvalidHeader
	}
	if !sanitized(f.Domain) || !isHost(f.Domain) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, f.Domain)
	}

	f.Address = lines[1]
	if !wallet.ValidAddress(f.Family, f.Address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, f.Address)
	}

	if lines[2] != "" {
		return nil, ErrBadLayout
	}

	// Optional single-line statement followed by a blank separator.
	next := 3
	if lines[3] != "" && len(lines) > 4 && lines[4] == "" {
		f.Statement = lines[3]
		if !sanitized(f.Statement) {
			return nil, fmt.Errorf("%w: statement", ErrForbiddenRune)
		}
		next = 5
	}

	rest := lines[next:]
	if len(rest) < 5 {
		return nil, ErrMessageTooShort
	}

	uri, err := fieldLine(rest[0], "URI")
	if err != nil {
		return nil, err
	}
	if err := validateURI(uri); err != nil {
		return nil, err
	}
	f.URI = uri

	version, err := fieldLine(rest[1], "Version")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	chainID, err := fieldLine(rest[2], "Chain ID")
	if err != nil {
		return nil, err
	}
	if err := (wallet.Chain{Family: f.Family, ID: chainID}).Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
	}
	f.ChainID = chainID

	nonce, err := fieldLine(rest[3], "Nonce")
	if err != nil {
		return nil, err
	}
	if !noncePattern.MatchString(nonce) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNonce, nonce)
	}
	f.Nonce = nonce

	issuedAt, err := fieldLine(rest[4], "Issued At")
	if err != nil {
		return nil, err
	}
	f.IssuedAt, err = parseTimestamp(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssuedAt, issuedAt)
	}

	rest = rest[5:]
	if len(rest) > 0 {
		exp, err := fieldLine(rest[0], "Expiration Time")
		if err != nil {
			return nil, err
		}
		f.ExpirationTime, err = parseTimestamp(exp)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidExpiration, exp)
		}
		if f.ExpirationTime.Before(f.IssuedAt) {
			return nil, ErrInvalidExpiration
		}
		rest = rest[1:]
	}
	if len(rest) > 0 {
		return nil, ErrBadLayout
	}

	return &Message{Fields: f}, nil
}

// fieldLine extracts the value from a "<name>: <value>" line, insisting
// on the exact field name and separator.
func fieldLine(line, name string) (string, error) {
	value, ok := strings.CutPrefix(line, name+": ")
	if !ok || value == "" {
		return "", fmt.Errorf("%w: expected %q line", ErrBadLayout, name)
	}
	if !sanitized(value) {
		return "", fmt.Errorf("%w: %s", ErrForbiddenRune, name)
	}
	return value, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return ts, nil
}
