// Package gasestimator implements the per-chain gas estimation and
// two-tier gas cache of spec §4.7, layered on top of internal/cache's
// tiered LRU+Redis cache and internal/rpcmux's RPC access. Gas limits and
// EMA smoothing are pure functions so they can be unit tested without a
// live chain.
package gasestimator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilswap/core/internal/cache"
)

// TxType enumerates the gas-limit buckets of spec §4.7.
type TxType string

const (
	TxNativeTransfer TxType = "native"
	TxERC20Transfer  TxType = "erc20_transfer"
	TxApprove        TxType = "approve"
	TxComplex        TxType = "complex"
)

// GasLimit returns the fixed gas limit for an EVM transaction type.
func GasLimit(t TxType) uint64 {
	switch t {
	case TxNativeTransfer:
		return 21000
	case TxERC20Transfer:
		return 65000
	case TxApprove:
		return 45000
	case TxComplex:
		return 150000
	default:
		return 21000
	}
}

// emaAlpha is the EVM gas-price smoothing factor (spec §4.7).
const emaAlpha = 0.125

// UpdateEMA applies the per-request EMA: ema = alpha*current + (1-alpha)*prev.
func UpdateEMA(prevEMA, current float64) float64 {
	if prevEMA == 0 {
		return current
	}
	return emaAlpha*current + (1-emaAlpha)*prevEMA
}

// fallback hard-coded gas costs, used when the live RPC query fails
// (spec §4.7: "return a conservative hard-coded fallback per chain and
// emit a warning").
const (
	fallbackEVMGasPriceWei  = 30_000_000_000 // 30 gwei
	fallbackBTCFeeRateSatVB = 10
	fallbackSOLLamports     = 5000
)

// GasQuoter fetches the chain's current native gas price/fee rate. For
// EVM this is eth_gasPrice; for Bitcoin, estimatesmartfee. Implemented by
// walletcore's gasQuoter (WalletCore.GasQuoterFor), one per network; that
// quoter returns an error for Solana, whose cost EstimateSolana computes
// without a quoter.
type GasQuoter interface {
	QuoteGasPrice(ctx context.Context) (float64, error)
}

// Estimator computes and caches gas cost estimates per chain.
type Estimator struct {
	mu      sync.Mutex
	emas    map[string]float64 // chain -> last EMA
	quoters map[string]GasQuoter
	tier    *cache.Tiered
	logger  *zap.Logger
}

func NewEstimator(tier *cache.Tiered, quoters map[string]GasQuoter, logger *zap.Logger) *Estimator {
	return &Estimator{
		emas:    make(map[string]float64),
		quoters: quoters,
		tier:    tier,
		logger:  logger,
	}
}

// exactKeyTTL and emaKeyTTL are the two-tier gas cache's TTLs (spec §4.7).
const (
	exactKeyTTL = 10 * time.Second
	emaKeyTTL   = 60 * time.Second
)

type cachedGas struct {
	CostNative float64 `json:"cost_native"`
}

// EstimateEVM returns the gas cost in native units (wei/1e18) for an EVM
// tx type, applying the per-chain EMA and two-tier cache.
func (e *Estimator) EstimateEVM(ctx context.Context, chain string, txType TxType) (float64, error) {
	exactKey := fmt.Sprintf("gas:%s:%s", chain, txType)
	if entry, ok := e.tier.Get(ctx, exactKey); ok {
		var g cachedGas
		if json.Unmarshal(entry.Value, &g) == nil {
			return g.CostNative, nil
		}
	}

	gasPriceWei, err := e.gasPriceEMA(ctx, chain)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("gas price query failed, using fallback", zap.String("chain", chain), zap.Error(err))
		}
		gasPriceWei = fallbackEVMGasPriceWei
	}

	limit := GasLimit(txType)
	costNative := float64(limit) * gasPriceWei / 1e18

	raw, _ := json.Marshal(cachedGas{CostNative: costNative})
	_ = e.tier.Set(ctx, exactKey, raw, exactKeyTTL)
	return costNative, nil
}

func (e *Estimator) gasPriceEMA(ctx context.Context, chain string) (float64, error) {
	emaKey := fmt.Sprintf("gas:%s:ema", chain)
	quoter, ok := e.quoters[chain]
	if !ok {
		return 0, fmt.Errorf("no gas quoter configured for chain %s", chain)
	}

	current, err := quoter.QuoteGasPrice(ctx)
	if err != nil {
		if entry, ok := e.tier.Get(ctx, emaKey); ok {
			if v, perr := strconv.ParseFloat(string(entry.Value), 64); perr == nil {
				return v, nil
			}
		}
		return 0, err
	}

	e.mu.Lock()
	prev := e.emas[chain]
	next := UpdateEMA(prev, current)
	e.emas[chain] = next
	e.mu.Unlock()

	_ = e.tier.Set(ctx, emaKey, []byte(strconv.FormatFloat(next, 'f', -1, 64)), emaKeyTTL)
	return next, nil
}

// btcVsize is the P2PKH virtual size estimate of spec §4.2/§4.7:
// 148*inputs + 34*outputs + 10.
func btcVsize(inputs, outputs int) int {
	return 148*inputs + 34*outputs + 10
}

// EstimateBTC returns the total fee in satoshis for a transaction with the
// given input/output counts, using estimatesmartfee(blocks=6) with a
// fallback of 10 sat/vB on RPC failure.
func (e *Estimator) EstimateBTC(ctx context.Context, inputs, outputs int) (int64, error) {
	exactKey := fmt.Sprintf("gas:bitcoin:%d:%d", inputs, outputs)
	if entry, ok := e.tier.Get(ctx, exactKey); ok {
		if v, err := strconv.ParseInt(string(entry.Value), 10, 64); err == nil {
			return v, nil
		}
	}

	feeRate := float64(fallbackBTCFeeRateSatVB)
	if quoter, ok := e.quoters["bitcoin"]; ok {
		if v, err := quoter.QuoteGasPrice(ctx); err == nil {
			feeRate = v
		} else if e.logger != nil {
			e.logger.Warn("btc fee rate query failed, using fallback", zap.Error(err))
		}
	}

	total := int64(feeRate * float64(btcVsize(inputs, outputs)))
	_ = e.tier.Set(ctx, exactKey, []byte(strconv.FormatInt(total, 10)), exactKeyTTL)
	return total, nil
}

// EstimateSolana returns the lamport cost of a transfer: the fixed base
// fee plus an optional priority fee.
func (e *Estimator) EstimateSolana(ctx context.Context, priorityFeeLamports int64) int64 {
	return fallbackSOLLamports + priorityFeeLamports
}
