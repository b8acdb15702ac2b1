package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// SolanaVerifier verifies detached Ed25519 signatures against the base58
// public key that doubles as the wallet address.
type SolanaVerifier struct{}

// Verify checks the base58-encoded 64-byte signature over the exact
// message bytes using the claimed address as the public key.
func (SolanaVerifier) Verify(message []byte, signature, address string) error {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return err
	}

	sig, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: base58 decode: %v", ErrMalformedSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, ed25519.SignatureSize, len(sig))
	}

	if !ed25519.Verify(pub, message, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// PublicKeyFromAddress decodes a base58 Solana address into its Ed25519
// public key.
func PublicKeyFromAddress(address string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("%w: base58 decode: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidAddress, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
