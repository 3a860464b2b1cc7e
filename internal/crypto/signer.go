// Package crypto provides operator key handling and message signing for the
// privileged API surface: encrypted key storage on disk and Ethereum
// personal-sign signatures over request bodies.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// personalPrefix is the Ethereum signed-message prefix (EIP-191).
const personalPrefix = "\x19Ethereum Signed Message:\n"

// hashPersonal returns keccak256 of the EIP-191 envelope around message.
func hashPersonal(message []byte) []byte {
	envelope := fmt.Sprintf("%s%d%s", personalPrefix, len(message), message)
	return ethcrypto.Keccak256([]byte(envelope))
}

// Signer produces personal-sign signatures with a fixed operator key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the address derived from the signing key.
func (s *Signer) Address() common.Address { return s.address }

// SignMessage signs message with the EIP-191 personal-sign envelope and
// returns the 65-byte signature hex-encoded with a 0x prefix. The recovery
// byte uses the conventional 27/28 offset.
func (s *Signer) SignMessage(message []byte) (string, error) {
	sig, err := ethcrypto.Sign(hashPersonal(message), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced the given personal-sign
// signature over message. It accepts recovery bytes both with and without
// the 27 offset.
func RecoverSigner(message []byte, signatureHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	// Do not mutate the caller's slice.
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hashPersonal(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
