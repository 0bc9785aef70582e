package swap

import (
	"context"

	"github.com/veilswap/core/internal/upstream"
)

// AddressDeriver derives a deposit address at a given index for a
// destination network; backed by internal/chainadapter's per-chain
// adapters and WalletCore (spec §4.2).
type AddressDeriver interface {
	DeriveAddress(ctx context.Context, network string, index uint32) (string, error)
}

// QuoteSource is the subset of upstream.Client the lifecycle engine needs
// to price and submit a swap.
type QuoteSource interface {
	GetRate(ctx context.Context, from, to string, amount float64) (*upstream.Rate, error)
	CreateTrade(ctx context.Context, req upstream.CreateTradeRequest) (*upstream.Trade, error)
}

// GasCostEstimator returns the native-unit gas cost for a payout on the
// given network, used to compute the platform fee's gas floor (spec §4.7).
type GasCostEstimator func(ctx context.Context, network string) (float64, error)

// Emitter publishes a lifecycle event to the webhook pipeline. Kept as a
// narrow interface here so internal/swap never imports internal/webhook.
type Emitter interface {
	Emit(ctx context.Context, eventType, swapID string, data interface{}) error
}
