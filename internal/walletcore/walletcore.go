package walletcore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/veilswap/core/internal/chainadapter"
	"github.com/veilswap/core/internal/chainadapter/bitcoin"
	"github.com/veilswap/core/internal/chainadapter/ethereum"
	"github.com/veilswap/core/internal/chainadapter/metrics"
	"github.com/veilswap/core/internal/chainadapter/solana"
	"github.com/veilswap/core/internal/chainadapter/storage"
	"github.com/veilswap/core/internal/rpcmux"
)

// decimals per chain family, for converting the Swap engine's float
// amounts to each chain's smallest unit (spec §4.2's path/curve/encoding
// table: wei for EVM, satoshi for Bitcoin, lamports for Solana).
var decimals = map[string]int{
	"ethereum": 18,
	"bitcoin":  8,
	"solana":   9,
}

// WalletCore is the single process-wide owner of the mnemonic-derived
// key material and the three chain adapters built over it (spec
// §4.2.2: "a single process-wide WalletCore wraps one MnemonicKeySource
// built from WALLET_MNEMONIC at boot").
type WalletCore struct {
	keySource *chainadapter.MnemonicKeySource
	adapters  map[string]chainadapter.ChainAdapter
	muxes     map[string]*rpcmux.Multiplexer
}

// New builds a WalletCore over already-constructed per-chain
// multiplexers, one per network family ("ethereum", "bitcoin", "solana").
// txStatePath selects the shared TransactionStateStore all three adapters
// record retry/broadcast state into: empty uses an in-memory store that
// does not survive a restart, non-empty persists to that JSON file path.
func New(mnemonic string, muxes map[string]*rpcmux.Multiplexer, evmChainID int64, solanaCluster string, txStatePath string, metricsRecorder metrics.ChainMetrics) (*WalletCore, error) {
	keySource, err := chainadapter.NewMnemonicKeySource(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("walletcore: building key source: %w", err)
	}

	adapters := make(map[string]chainadapter.ChainAdapter, len(muxes))
	var txStore storage.TransactionStateStore
	if txStatePath != "" {
		txStore, err = storage.NewFileTxStore(txStatePath)
		if err != nil {
			return nil, fmt.Errorf("walletcore: building file tx store: %w", err)
		}
	} else {
		txStore = storage.NewMemoryTxStore()
	}

	if mux, ok := muxes["ethereum"]; ok {
		adapter, err := ethereum.NewEthereumAdapter(newMuxRPCClient(mux), txStore, evmChainID, metricsRecorder)
		if err != nil {
			return nil, fmt.Errorf("walletcore: building ethereum adapter: %w", err)
		}
		adapters["ethereum"] = adapter
	}
	if mux, ok := muxes["bitcoin"]; ok {
		adapter, err := bitcoin.NewBitcoinAdapter(newMuxRPCClient(mux), txStore, "mainnet")
		if err != nil {
			return nil, fmt.Errorf("walletcore: building bitcoin adapter: %w", err)
		}
		adapters["bitcoin"] = adapter
	}
	if mux, ok := muxes["solana"]; ok {
		adapter, err := solana.NewSolanaAdapter(newMuxRPCClient(mux), txStore, solanaCluster, metricsRecorder)
		if err != nil {
			return nil, fmt.Errorf("walletcore: building solana adapter: %w", err)
		}
		adapters["solana"] = adapter
	}

	return &WalletCore{keySource: keySource, adapters: adapters, muxes: muxes}, nil
}

// path renders the BIP44/SLIP-10 derivation path for network/index,
// matching the three validators in chainadapter/{ethereum,bitcoin,solana}.
func path(network string, index uint32) (string, error) {
	switch network {
	case "ethereum":
		return fmt.Sprintf("m/44'/60'/0'/0/%d", index), nil
	case "bitcoin":
		return fmt.Sprintf("m/44'/0'/0'/0/%d", index), nil
	case "solana":
		return fmt.Sprintf("m/44'/501'/%d'/0'", index), nil
	default:
		return "", fmt.Errorf("walletcore: unsupported network %s", network)
	}
}

func (w *WalletCore) adapterFor(network string) (chainadapter.ChainAdapter, error) {
	a, ok := w.adapters[network]
	if !ok {
		return nil, fmt.Errorf("walletcore: no adapter configured for network %s", network)
	}
	return a, nil
}

// DeriveAddress implements swap.AddressDeriver.
func (w *WalletCore) DeriveAddress(ctx context.Context, network string, index uint32) (string, error) {
	adapter, err := w.adapterFor(network)
	if err != nil {
		return "", err
	}
	p, err := path(network, index)
	if err != nil {
		return "", err
	}
	addr, err := adapter.Derive(ctx, w.keySource, p)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

func (w *WalletCore) signerFor(network string, index uint32, address string) (chainadapter.Signer, error) {
	p, err := path(network, index)
	if err != nil {
		return nil, err
	}
	switch network {
	case "ethereum":
		raw, err := w.keySource.GetPrivateKey(p)
		if err != nil {
			return nil, err
		}
		key, _ := btcec.PrivKeyFromBytes(raw)
		return newEVMSigner(address, key), nil
	case "bitcoin":
		key, err := w.keySource.GetBitcoinPrivateKey(p)
		if err != nil {
			return nil, err
		}
		return newBitcoinSigner(address, key), nil
	case "solana":
		_, priv, err := w.keySource.GetSolanaKeypair(p)
		if err != nil {
			return nil, err
		}
		return newSolanaSigner(address, priv), nil
	default:
		return nil, fmt.Errorf("walletcore: unsupported network %s", network)
	}
}

func toSmallestUnit(amount float64, network string) *big.Int {
	scale := math.Pow10(decimals[network])
	f := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(scale))
	i, _ := f.Int(nil)
	return i
}

// SignAndBroadcast implements payout.Signer and refund.Signer: derive
// the source address at addressIndex, build/sign/broadcast a native
// transfer of amount to recipient (spec §4.2, §4.3, §4.5 — all three
// callers share this one signing path).
func (w *WalletCore) SignAndBroadcast(ctx context.Context, network string, addressIndex uint32, recipient string, amount float64) (string, error) {
	adapter, err := w.adapterFor(network)
	if err != nil {
		return "", err
	}

	from, err := w.DeriveAddress(ctx, network, addressIndex)
	if err != nil {
		return "", err
	}
	signer, err := w.signerFor(network, addressIndex, from)
	if err != nil {
		return "", err
	}

	req := &chainadapter.TransactionRequest{
		From:     from,
		To:       recipient,
		Asset:    strings.ToUpper(network),
		Amount:   toSmallestUnit(amount, network),
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}

	unsigned, err := adapter.Build(ctx, req)
	if err != nil {
		return "", fmt.Errorf("walletcore: build failed: %w", err)
	}
	signed, err := adapter.Sign(ctx, unsigned, signer)
	if err != nil {
		return "", fmt.Errorf("walletcore: sign failed: %w", err)
	}
	receipt, err := adapter.Broadcast(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("walletcore: broadcast failed: %w", err)
	}
	return receipt.TxHash, nil
}

// Confirmations implements listener.ConfirmationChecker.
func (w *WalletCore) Confirmations(ctx context.Context, network, txHash string) (int, error) {
	adapter, err := w.adapterFor(network)
	if err != nil {
		return 0, err
	}
	status, err := adapter.QueryStatus(ctx, txHash)
	if err != nil {
		return 0, err
	}
	return status.Confirmations, nil
}

// GetBalance implements payout.BalanceChecker and listener.BalanceChecker.
// ChainAdapter has no balance query of its own (spec §4.2 scopes it to
// build/sign/broadcast/status); this reads the raw JSON-RPC method each
// chain exposes directly through the same multiplexer the adapter uses.
func (w *WalletCore) GetBalance(ctx context.Context, network, address string) (float64, error) {
	mux, ok := w.muxes[network]
	if !ok {
		return 0, fmt.Errorf("walletcore: no RPC multiplexer configured for network %s", network)
	}

	switch network {
	case "ethereum":
		raw, err := mux.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
		if err != nil {
			return 0, err
		}
		var hexWei string
		if err := json.Unmarshal(raw, &hexWei); err != nil {
			return 0, err
		}
		wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexWei, "0x"), 16)
		if !ok {
			return 0, fmt.Errorf("walletcore: malformed eth_getBalance result %q", hexWei)
		}
		eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
		return eth, nil

	case "bitcoin":
		raw, err := mux.Call(ctx, "scantxoutset", []interface{}{"start", []string{fmt.Sprintf("addr(%s)", address)}})
		if err != nil {
			return 0, err
		}
		var result struct {
			TotalAmount float64 `json:"total_amount"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return 0, err
		}
		return result.TotalAmount, nil

	case "solana":
		raw, err := mux.Call(ctx, "getBalance", []interface{}{address})
		if err != nil {
			return 0, err
		}
		var result struct {
			Value int64 `json:"value"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return 0, err
		}
		return float64(result.Value) / 1e9, nil

	default:
		return 0, fmt.Errorf("walletcore: unsupported network %s", network)
	}
}

// QuoteGasPrice implements gasestimator.GasQuoter, one instance per
// network, sharing this WalletCore's multiplexers.
type gasQuoter struct {
	network string
	core    *WalletCore
}

// GasQuoterFor returns a gasestimator.GasQuoter bound to network.
func (w *WalletCore) GasQuoterFor(network string) *gasQuoter {
	return &gasQuoter{network: network, core: w}
}

func (q *gasQuoter) QuoteGasPrice(ctx context.Context) (float64, error) {
	mux, ok := q.core.muxes[q.network]
	if !ok {
		return 0, fmt.Errorf("walletcore: no RPC multiplexer configured for network %s", q.network)
	}

	switch q.network {
	case "ethereum":
		raw, err := mux.Call(ctx, "eth_gasPrice", []interface{}{})
		if err != nil {
			return 0, err
		}
		var hexPrice string
		if err := json.Unmarshal(raw, &hexPrice); err != nil {
			return 0, err
		}
		price, err := strconv.ParseUint(strings.TrimPrefix(hexPrice, "0x"), 16, 64)
		if err != nil {
			return 0, err
		}
		return float64(price), nil

	case "bitcoin":
		raw, err := mux.Call(ctx, "estimatesmartfee", []interface{}{6})
		if err != nil {
			return 0, err
		}
		var result struct {
			FeeRate float64 `json:"feerate"` // BTC per kvB
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return 0, err
		}
		return result.FeeRate * 1e8 / 1000, nil // sat/vB

	default:
		return 0, fmt.Errorf("walletcore: %s does not use a gas price quoter", q.network)
	}
}

