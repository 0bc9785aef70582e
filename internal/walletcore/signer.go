package walletcore

import (
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilswap/core/internal/chainadapter"
)

// localSigner implements chainadapter.Signer over key material derived
// on demand from the process's MnemonicKeySource, generalized from the
// teacher's internal/services/chainadapter.SimpleSigner (secp256k1-only)
// to also cover Solana's Ed25519 scheme.
type localSigner struct {
	network    string
	address    string
	ecdsaKey   *btcec.PrivateKey // ethereum, bitcoin
	ed25519Key ed25519.PrivateKey // solana
}

func newEVMSigner(address string, key *btcec.PrivateKey) chainadapter.Signer {
	return &localSigner{network: "ethereum", address: address, ecdsaKey: key}
}

func newBitcoinSigner(address string, key *btcec.PrivateKey) chainadapter.Signer {
	return &localSigner{network: "bitcoin", address: address, ecdsaKey: key}
}

func newSolanaSigner(address string, key ed25519.PrivateKey) chainadapter.Signer {
	return &localSigner{network: "solana", address: address, ed25519Key: key}
}

func (s *localSigner) Sign(payload []byte, address string) ([]byte, error) {
	if s.address != address {
		return nil, fmt.Errorf("walletcore: address mismatch: signer controls %s, requested %s", s.address, address)
	}
	switch s.network {
	case "bitcoin":
		sig := ecdsa.Sign(s.ecdsaKey, payload)
		return sig.Serialize(), nil
	case "ethereum":
		sig, err := ethcrypto.Sign(payload, s.ecdsaKey.ToECDSA())
		if err != nil {
			return nil, fmt.Errorf("walletcore: ethereum signing failed: %w", err)
		}
		return sig, nil
	case "solana":
		return ed25519.Sign(s.ed25519Key, payload), nil
	default:
		return nil, fmt.Errorf("walletcore: unsupported network %s", s.network)
	}
}

func (s *localSigner) GetAddress() string { return s.address }

var _ chainadapter.Signer = (*localSigner)(nil)
