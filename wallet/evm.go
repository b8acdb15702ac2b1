package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractVerifier is the EIP-1271 extension point for addresses that are
// smart contracts rather than externally owned accounts. The default
// deployment has no chain access and leaves it nil, which rejects
// contract wallets without weakening the EOA path.
type ContractVerifier interface {
	VerifyContractSignature(address common.Address, digest [32]byte, signature []byte) error
}

// EVMVerifier verifies EIP-191 personal-sign signatures by secp256k1
// public key recovery.
type EVMVerifier struct {
	Contracts ContractVerifier
}

// Verify recovers the signing address from the 65-byte 0x-hex signature
// over the personal-sign digest of message and compares it to the claimed
// address (case-insensitive).
func (v EVMVerifier) Verify(message []byte, signature, address string) error {
	claimed, err := NormalizeAddress(FamilyEVM, address)
	if err != nil {
		return err
	}

	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(sig))
	}

	// Wallets emit V as 27/28; SigToPub wants 0/1.
	recSig := make([]byte, crypto.SignatureLength)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}
	if recSig[64] > 1 {
		return fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}

	digest := personalSignDigest(message)
	pub, err := crypto.SigToPub(digest[:], recSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	expected := common.HexToAddress(claimed)
	if recovered == expected {
		return nil
	}

	if v.Contracts != nil {
		return v.Contracts.VerifyContractSignature(expected, digest, sig)
	}
	return ErrSignatureMismatch
}

// personalSignDigest is the EIP-191 prefixed keccak256 digest:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg).
func personalSignDigest(message []byte) [32]byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte(prefixed)))
	return digest
}
