// Package wallet defines wallet families, chain references and the
// per-family signature verifiers used by the sign-in flow. A wallet
// identity is the (family, chain, address) tuple that uniquely names a
// signer across the system.
package wallet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// Family identifies the cryptosystem a wallet belongs to.
type Family string

const (
	// FamilyEVM covers secp256k1 wallets using EIP-191 personal-sign
	// (MetaMask and friends). Chain ids are EIP-155 integers.
	FamilyEVM Family = "eip155"

	// FamilySolana covers Ed25519 wallets following the Solana wallet
	// standard. Chain ids are cluster tags ("mainnet", "devnet", ...).
	FamilySolana Family = "solana"
)

var (
	ErrUnsupportedFamily  = errors.New("unsupported wallet family")
	ErrInvalidAddress     = errors.New("invalid wallet address")
	ErrInvalidChain       = errors.New("invalid chain reference")
	ErrMalformedSignature = errors.New("malformed signature encoding")
	ErrSignatureMismatch  = errors.New("signature does not match address")

	// ErrContractWalletsUnsupported is reported by the default EIP-1271
	// hook; contract-controlled addresses cannot prove control via
	// personal-sign recovery alone.
	ErrContractWalletsUnsupported = errors.New("contract-controlled wallets are not supported")
)

// Chain is a family-scoped chain reference, e.g. eip155:1 or solana:mainnet.
type Chain struct {
	Family Family
	ID     string
}

func (c Chain) String() string {
	return string(c.Family) + ":" + c.ID
}

var clusterPattern = "abcdefghijklmnopqrstuvwxyz0123456789-"

// ParseChain parses the namespaced textual form produced by Chain.String.
func ParseChain(s string) (Chain, error) {
	family, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Chain{}, fmt.Errorf("%w: %q", ErrInvalidChain, s)
	}
	c := Chain{Family: Family(family), ID: id}
	if err := c.Validate(); err != nil {
		return Chain{}, err
	}
	return c, nil
}

// Validate checks the chain id shape for the family: EVM chain ids must be
// positive integers, Solana cluster tags lowercase alphanumeric.
func (c Chain) Validate() error {
	switch c.Family {
	case FamilyEVM:
		n, err := strconv.ParseUint(c.ID, 10, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: eip155 chain id must be a positive integer, got %q", ErrInvalidChain, c.ID)
		}
	case FamilySolana:
		for _, r := range c.ID {
			if !strings.ContainsRune(clusterPattern, r) {
				return fmt.Errorf("%w: solana cluster tag %q", ErrInvalidChain, c.ID)
			}
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFamily, c.Family)
	}
	return nil
}

// Identity is a chain-scoped wallet address. Two chains within the same
// family yield distinct identities; deployments wanting cross-chain
// equivalence can key accounts on CollapsedKey instead.
type Identity struct {
	Chain   Chain
	Address string
}

// NewIdentity normalizes the address into its canonical per-family form
// (lowercase hex for EVM, verbatim base58 for Solana).
func NewIdentity(chain Chain, address string) (Identity, error) {
	if err := chain.Validate(); err != nil {
		return Identity{}, err
	}
	norm, err := NormalizeAddress(chain.Family, address)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Chain: chain, Address: norm}, nil
}

// Key is the unique storage key: <family>:<chain>:<address>.
func (i Identity) Key() string {
	return i.Chain.String() + ":" + i.Address
}

// CollapsedKey drops the chain id, treating the same address on every
// chain of a family as one identity. Not used by default.
func (i Identity) CollapsedKey() string {
	return string(i.Chain.Family) + ":" + i.Address
}

// NormalizeAddress validates an address for the family and returns its
// canonical textual form.
func NormalizeAddress(f Family, address string) (string, error) {
	switch f {
	case FamilyEVM:
		if !common.IsHexAddress(address) {
			return "", fmt.Errorf("%w: %q is not a hex address", ErrInvalidAddress, address)
		}
		return strings.ToLower(common.HexToAddress(address).Hex()), nil
	case FamilySolana:
		raw, err := base58.Decode(address)
		if err != nil {
			return "", fmt.Errorf("%w: base58 decode: %v", ErrInvalidAddress, err)
		}
		if len(raw) != 32 {
			return "", fmt.Errorf("%w: public key must be 32 bytes, got %d", ErrInvalidAddress, len(raw))
		}
		return address, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFamily, f)
	}
}

// ValidAddress reports whether address parses for the family.
func ValidAddress(f Family, address string) bool {
	_, err := NormalizeAddress(f, address)
	return err == nil
}

// Verifier checks that signature proves control of address over the exact
// message bytes. Implementations return ErrMalformedSignature for
// undecodable input and ErrSignatureMismatch for a well-formed signature
// by the wrong key or over different bytes.
type Verifier interface {
	Verify(message []byte, signature, address string) error
}

// ForFamily returns the default verifier for a family.
func ForFamily(f Family) (Verifier, error) {
	switch f {
	case FamilyEVM:
		return EVMVerifier{}, nil
	case FamilySolana:
		return SolanaVerifier{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFamily, f)
	}
}
