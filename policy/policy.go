// Package policy holds the static acceptance rules a sign-in message is
// checked against before any cryptography runs: which origin domain may
// appear in the header and which chains accounts may arrive from.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coinwatch/walletauth/wallet"
)

var (
	ErrDomainMismatch  = errors.New("message domain does not match origin")
	ErrChainNotAllowed = errors.New("chain is not in the allowlist")
)

// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	domain string
	chains map[string]struct{}
}

// New builds a Policy for one origin domain and an allowlist of chains.
// An empty allowlist rejects every chain.
func New(domain string, chains []wallet.Chain) *Policy {
	p := &Policy{
		domain: domain,
		chains: make(map[string]struct{}, len(chains)),
	}
	for _, c := range chains {
		p.chains[c.String()] = struct{}{}
	}
	return p
}

// Domain returns the configured origin domain.
func (p *Policy) Domain() string { return p.domain }

// CheckDomain compares case-insensitively, since DNS hostnames are.
func (p *Policy) CheckDomain(domain string) error {
	if !strings.EqualFold(domain, p.domain) {
		return fmt.Errorf("%w: got %q, want %q", ErrDomainMismatch, domain, p.domain)
	}
	return nil
}

// CheckChain reports whether the chain is allowlisted.
func (p *Policy) CheckChain(c wallet.Chain) error {
	if _, ok := p.chains[c.String()]; !ok {
		return fmt.Errorf("%w: %s", ErrChainNotAllowed, c)
	}
	return nil
}

// Chains returns the allowlist in unspecified order.
func (p *Policy) Chains() []wallet.Chain {
	out := make([]wallet.Chain, 0, len(p.chains))
	for key := range p.chains {
		c, err := wallet.ParseChain(key)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ParseChainList parses a comma-separated allowlist such as
// "eip155:1,eip155:137,solana:mainnet". Blank entries are skipped.
func ParseChainList(raw string) ([]wallet.Chain, error) {
	var out []wallet.Chain
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := wallet.ParseChain(part)
		if err != nil {
			return nil, fmt.Errorf("chain allowlist entry %q: %w", part, err)
		}
		out = append(out, c)
	}
	return out, nil
}
