// Package listener implements the blockchain listener of spec §4.8: an
// adaptive-interval poller over every swap's deposit address that
// detects incoming funds and confirms them; expired deposits are left to
// the refund detector. Grounded on the teacher's
// chainadapter.ChainAdapter.QueryStatus/SubscribeStatus contract (spec
// §4.2.1) for how confirmation state is read, and on
// chainadapter/rpc.SimpleHealthTracker's failure-driven backoff for the
// normal/error polling cadence.
package listener

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veilswap/core/internal/store"
	"github.com/veilswap/core/internal/swap"
)

// balanceTolerance matches the payout executor's 1% upstream-rounding
// allowance (spec §4.3, §4.8).
const balanceTolerance = 0.99

// requiredConfirmations per chain family, used to decide when a detected
// deposit is final enough to advance past "confirming".
func requiredConfirmations(network string) int {
	switch network {
	case "bitcoin":
		return 2
	case "solana":
		return 1
	default:
		return 12
	}
}

// BalanceChecker reads the on-chain balance at an address.
type BalanceChecker interface {
	GetBalance(ctx context.Context, network, address string) (float64, error)
}

// ConfirmationChecker reads how many confirmations a deposit transaction
// has accrued, once one has been observed.
type ConfirmationChecker interface {
	Confirmations(ctx context.Context, network, txHash string) (int, error)
}

// Advancer is the subset of swap.Engine the listener drives.
type Advancer interface {
	Advance(ctx context.Context, swapID string, event swap.Event) (store.SwapStatus, error)
}

// Listener is the blockchain listener of spec §4.8.
type Listener struct {
	swaps     store.SwapStore
	balance   BalanceChecker
	confirmer ConfirmationChecker
	advancer  Advancer
	logger    *zap.Logger

	// intervals tracks the current adaptive poll interval per network;
	// an RPC error on a network doubles its interval up to errorInterval,
	// a clean pass resets it to normalInterval (spec §4.8).
	intervals map[string]time.Duration
}

const normalInterval = 60 * time.Second
const errorInterval = 120 * time.Second

func NewListener(swaps store.SwapStore, balance BalanceChecker, confirmer ConfirmationChecker, advancer Advancer, logger *zap.Logger) *Listener {
	return &Listener{
		swaps:     swaps,
		balance:   balance,
		confirmer: confirmer,
		advancer:  advancer,
		logger:    logger,
		intervals: make(map[string]time.Duration),
	}
}

// IntervalFor returns the current adaptive poll interval for a network.
func (l *Listener) IntervalFor(network string) time.Duration {
	if d, ok := l.intervals[network]; ok {
		return d
	}
	return normalInterval
}

// Tick runs one pass over every non-terminal swap awaiting a deposit or
// its confirmations, checking on-chain state and advancing the lifecycle
// engine accordingly. Each swap's poll is independent; one failure never
// blocks another swap's check.
func (l *Listener) Tick(ctx context.Context) {
	swaps, err := l.swaps.ListNonTerminal()
	if err != nil {
		if l.logger != nil {
			l.logger.Warn("listener: listing non-terminal swaps failed", zap.Error(err))
		}
		return
	}

	for _, sw := range swaps {
		switch sw.Status {
		case store.StatusWaiting:
			l.checkDeposit(ctx, sw)
		case store.StatusConfirming:
			l.checkConfirmations(ctx, sw)
		}
	}
}

func (l *Listener) checkDeposit(ctx context.Context, sw *store.Swap) {
	balance, err := l.balance.GetBalance(ctx, sw.FromNetwork, sw.DepositAddress)
	if err != nil {
		l.backoff(sw.FromNetwork)
		if l.logger != nil {
			l.logger.Warn("listener: balance check failed", zap.String("swap_id", sw.ID), zap.Error(err))
		}
		return
	}
	l.recover(sw.FromNetwork)

	if balance < sw.Amount*balanceTolerance {
		return // no deposit observed yet; the refund detector owns expiry
	}

	if _, err := l.advancer.Advance(ctx, sw.ID, swap.EventDepositDetected); err != nil {
		if l.logger != nil {
			l.logger.Warn("listener: failed to advance on deposit detection", zap.String("swap_id", sw.ID), zap.Error(err))
		}
	}
}

func (l *Listener) checkConfirmations(ctx context.Context, sw *store.Swap) {
	if sw.TxHashIn == "" {
		return // deposit detected but the depositing tx hash isn't known yet
	}
	confirmations, err := l.confirmer.Confirmations(ctx, sw.FromNetwork, sw.TxHashIn)
	if err != nil {
		l.backoff(sw.FromNetwork)
		if l.logger != nil {
			l.logger.Warn("listener: confirmation check failed", zap.String("swap_id", sw.ID), zap.Error(err))
		}
		return
	}
	l.recover(sw.FromNetwork)

	if confirmations < requiredConfirmations(sw.FromNetwork) {
		return
	}
	if _, err := l.advancer.Advance(ctx, sw.ID, swap.EventConfirmed); err != nil {
		if l.logger != nil {
			l.logger.Warn("listener: failed to advance on confirmation", zap.String("swap_id", sw.ID), zap.Error(err))
		}
	}
}

func (l *Listener) backoff(network string) {
	cur := l.IntervalFor(network)
	next := cur * 2
	if next > errorInterval {
		next = errorInterval
	}
	l.intervals[network] = next
}

func (l *Listener) recover(network string) {
	l.intervals[network] = normalInterval
}
