// Package solana implements ChainAdapter for the Solana blockchain (account-based, Ed25519).
package solana

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/mr-tron/base58"
)

// SLIP44CoinType is the registered SLIP-44 coin type for Solana.
const SLIP44CoinType = 501

// validateSolanaPath validates that a derivation path follows the Solana
// convention: m/44'/501'/account'/0' — every level hardened, as required
// by SLIP-10 Ed25519 derivation (Ed25519 has no public-parent-key-derives-
// public-child-key property, so non-hardened paths are meaningless).
func validateSolanaPath(path string) error {
	pattern := `^m/44'/(\d+)'/(\d+)'/0'$`
	re := regexp.MustCompile(pattern)
	matches := re.FindStringSubmatch(path)
	if matches == nil {
		return fmt.Errorf("path must follow m/44'/501'/account'/0' (all hardened)")
	}

	coinType, err := strconv.Atoi(matches[1])
	if err != nil || coinType != SLIP44CoinType {
		return fmt.Errorf("coin type mismatch: expected %d, got %s", SLIP44CoinType, matches[1])
	}

	if _, err := strconv.Atoi(matches[2]); err != nil {
		return fmt.Errorf("invalid account: %s", matches[2])
	}

	return nil
}

// pubKeyToBase58Address encodes a 32-byte Ed25519 public key as a Solana address.
func pubKeyToBase58Address(pubKey []byte) (string, error) {
	if len(pubKey) != 32 {
		return "", fmt.Errorf("invalid Ed25519 public key length: expected 32 bytes, got %d", len(pubKey))
	}
	return base58.Encode(pubKey), nil
}
