// Package payout implements the payout executor of spec §4.3: the
// idempotent, balance-verified, commission-deducting routine that pays a
// completed swap out on-chain. The on-chain balance at our_address is
// authoritative; upstream "finished" status is only ever a hint that
// triggers a balance check, never a reason to pay out on its own (spec
// §9's two-source-of-truth note).
package payout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veilswap/core/internal/platform/corerr"
	"github.com/veilswap/core/internal/pricing"
	"github.com/veilswap/core/internal/store"
)

// BalanceChecker reads the on-chain balance at an address. Implemented by
// internal/walletcore's WalletCore.GetBalance.
type BalanceChecker interface {
	GetBalance(ctx context.Context, network, address string) (float64, error)
}

// Signer builds, signs, and broadcasts a native transfer from the derived
// address at addressIndex to recipient.
type Signer interface {
	SignAndBroadcast(ctx context.Context, network string, addressIndex uint32, recipient string, amount float64) (txHash string, err error)
}

// Emitter publishes payout.* lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, eventType, swapID string, data interface{}) error
}

// USDConverter prices a currency amount in USD so commission tiering (spec
// §4.7's tier_rate, keyed on amount_usd) runs against notional value rather
// than the raw native-unit amount.
type USDConverter func(currency string, amount float64) float64

// balanceTolerance is the 1% upstream-rounding tolerance of spec §4.3.
const balanceTolerance = 0.99

// gasFloorMultiple is the "commission >= gas floor * 1.5" threshold that
// decides whether gas is deducted from commission or drawn from the
// swap's planned buffer (spec §4.3, resolving the Open Question in §9
// in favor of this single, narrower policy).
const gasFloorMultiple = 1.5

// Executor is the payout executor of spec §4.3.
type Executor struct {
	swaps   store.SwapStore
	infos   store.SwapAddressInfoStore
	balance BalanceChecker
	signer  Signer
	usd     USDConverter
	emit    Emitter
	logger  *zap.Logger
}

func NewExecutor(swaps store.SwapStore, infos store.SwapAddressInfoStore, balance BalanceChecker, signer Signer, usd USDConverter, emit Emitter, logger *zap.Logger) *Executor {
	return &Executor{swaps: swaps, infos: infos, balance: balance, signer: signer, usd: usd, emit: emit, logger: logger}
}

// Response is the result of ProcessPayout, also what a duplicate
// idempotency key replays.
type Response struct {
	SwapID  string
	TxHash  string
	Amount  float64
	AlreadyPaid bool
}

// idempotencyKey is deterministic per swap: it hashes the swap ID alone and
// does not include an attempt number, so every payout attempt for a swap
// uses the same key.
func idempotencyKey(swapID string) string {
	sum := sha256.Sum256([]byte("payout:" + swapID))
	return hex.EncodeToString(sum[:])
}

// ProcessPayout implements process_payout(swap_id) of spec §4.3.
func (x *Executor) ProcessPayout(ctx context.Context, swapID string) (*Response, error) {
	sw, err := x.swaps.Get(swapID)
	if err != nil {
		return nil, err
	}
	if sw == nil {
		return nil, corerr.New(corerr.Validation, "ERR_SWAP_NOT_FOUND", "swap not found", nil)
	}

	info, err := x.infos.Get(swapID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, corerr.New(corerr.Internal, "ERR_NO_ADDRESS_INFO", "swap has no SwapAddressInfo row", nil)
	}

	if info.Status == store.PayoutSuccess {
		if info.PayoutTxHash == "" {
			return nil, corerr.New(corerr.Internal, "ERR_INVARIANT", "payout marked success with no tx hash", nil)
		}
		return &Response{SwapID: swapID, TxHash: info.PayoutTxHash, Amount: info.PayoutAmount, AlreadyPaid: true}, nil
	}
	if info.Status != store.PayoutPending || info.PayoutTxHash != "" {
		return nil, corerr.New(corerr.Conflict, corerr.CodeAlreadyPaidOut, "payout already in flight or not eligible", nil)
	}

	key := idempotencyKey(swapID)
	acquired, err := x.infos.TryAcquireIdempotencyKey(swapID, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		existing, err := x.infos.GetByIdempotencyKey(key)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.PayoutTxHash != "" {
			return &Response{SwapID: swapID, TxHash: existing.PayoutTxHash, Amount: existing.PayoutAmount, AlreadyPaid: true}, nil
		}
		return nil, corerr.New(corerr.Conflict, corerr.CodeAlreadyPaidOut, "a concurrent payout attempt is already in flight", nil)
	}

	expectedAmount := sw.EstimatedReceive + sw.Fees.Platform
	onChainBalance, err := x.balance.GetBalance(ctx, sw.ToNetwork, info.OurAddress)
	if err != nil {
		return nil, corerr.New(corerr.RPCNetwork, "ERR_BALANCE_CHECK", "querying on-chain balance", err)
	}
	if onChainBalance < expectedAmount*balanceTolerance {
		return nil, corerr.New(corerr.ChainDomain, corerr.CodeInsufficientBalance, fmt.Sprintf("balance %.8f below expected %.8f (tolerance %.2f)", onChainBalance, expectedAmount, balanceTolerance), nil)
	}

	actualReceived := onChainBalance
	// tier_rate (spec §4.7) is keyed on amount_usd, not the native amount:
	// tiering "1.05" ETH directly would hit the <$200 tier regardless of
	// what ETH is actually worth, so the notional is converted through usd
	// first. Zero provider spread: by payout time there is exactly one
	// realized trade, not several competing quotes to spread against.
	actualReceivedUSD := x.usd(sw.ToCurrency, actualReceived)
	commission := pricing.CommissionRate(actualReceivedUSD, 0) * actualReceived

	gasFloor := sw.Fees.Platform // the platform_fee computed at create_swap already embeds the gas floor
	netAmount := actualReceived - commission
	if commission < gasFloor*gasFloorMultiple {
		// Conservative minimum retained; gas is drawn from the swap's
		// planned buffer rather than further eroding the user's payout.
		netAmount = actualReceived - gasFloor
	}

	info.ActualReceived = actualReceived
	info.CommissionTaken = commission
	info.PayoutAmount = netAmount
	if err := x.infos.Update(info); err != nil {
		return nil, err
	}

	if x.emit != nil {
		_ = x.emit.Emit(ctx, "payout.initiated", swapID, info)
	}

	txHash, err := x.signer.SignAndBroadcast(ctx, sw.ToNetwork, info.AddressIndex, sw.RecipientAddress, netAmount)
	if err != nil {
		return nil, corerr.New(corerr.ChainDomain, corerr.CodeBroadcastError, "broadcasting payout transaction", err)
	}

	now := time.Now()
	info.PayoutTxHash = txHash
	info.BroadcastAt = &now
	info.Status = store.PayoutSuccess
	if err := x.infos.Update(info); err != nil {
		return nil, err
	}

	sw.TxHashOut = txHash
	sw.ActualReceive = actualReceived
	sw.Status = store.StatusCompleted
	sw.UpdatedAt = now
	sw.CompletedAt = &now
	if err := x.swaps.Update(sw); err != nil {
		return nil, err
	}
	_ = x.swaps.AppendHistory(&store.SwapStatusHistory{SwapID: swapID, Status: store.StatusCompleted, Message: "payout broadcast", Timestamp: now})

	if x.emit != nil {
		_ = x.emit.Emit(ctx, "payout.completed", swapID, info)
	}

	return &Response{SwapID: swapID, TxHash: txHash, Amount: netAmount}, nil
}
