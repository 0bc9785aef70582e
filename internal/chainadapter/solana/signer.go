// Package solana - Transaction signing implementation
package solana

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Ed25519Signer implements chainadapter.Signer for Solana using Ed25519.
type Ed25519Signer struct {
	privateKey ed25519.PrivateKey
	address    string
}

// NewEd25519Signer creates a new Solana signer from a raw Ed25519 keypair.
func NewEd25519Signer(pubKey ed25519.PublicKey, privKey ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pubKey))
	}
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKey))
	}

	return &Ed25519Signer{
		privateKey: privKey,
		address:    base58.Encode(pubKey),
	}, nil
}

// Sign signs the given payload using Ed25519.
//
// Contract:
// - Verifies that the requested address matches the signer's address
// - Returns a raw 64-byte Ed25519 signature
//
// Parameters:
// - payload: Binary data to sign (the serialized message, NOT a hash —
//   Ed25519 signs the message directly)
// - address: Address that should sign (for verification)
func (s *Ed25519Signer) Sign(payload []byte, address string) ([]byte, error) {
	if address != s.address {
		return nil, fmt.Errorf("address mismatch: signer controls %s, requested %s", s.address, address)
	}

	signature := ed25519.Sign(s.privateKey, payload)
	return signature, nil
}

// GetAddress returns the base58-encoded Solana address controlled by this signer.
func (s *Ed25519Signer) GetAddress() string {
	return s.address
}

// GetPublicKey returns the raw 32-byte Ed25519 public key.
func (s *Ed25519Signer) GetPublicKey() []byte {
	return []byte(s.privateKey.Public().(ed25519.PublicKey))
}

// VerifySignature verifies an Ed25519 signature against a payload and address.
func VerifySignature(payload []byte, signature []byte, address string) (bool, error) {
	pubKeyBytes, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("invalid address: %w", err)
	}
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key length: %d", len(pubKeyBytes))
	}
	if len(signature) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), payload, signature), nil
}
