package swap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilswap/core/internal/platform/corerr"
	"github.com/veilswap/core/internal/pricing"
	"github.com/veilswap/core/internal/store"
	"github.com/veilswap/core/internal/upstream"
)

// defaultQuoteWindow is how long a created swap has to receive a deposit
// before it is eligible for expiry (the swap's ExpiresAt field).
const defaultQuoteWindow = 20 * time.Minute

// Engine is the swap lifecycle engine of spec §4.1. It owns Swap and
// SwapAddressInfo creation/transition and is the only component permitted
// to mutate them (spec §3's ownership rule).
type Engine struct {
	swaps     store.SwapStore
	infos     store.SwapAddressInfoStore
	currencies store.CurrencyStore

	quotes  QuoteSource
	derive  AddressDeriver
	gasCost GasCostEstimator
	emit    Emitter
	logger  *zap.Logger

	// networkLocks serializes address-index allocation per destination
	// network (spec §4.1, §5: "Address index allocation is serialized per
	// destination network by an advisory lock during create_swap").
	networkLocks sync.Map // map[string]*sync.Mutex

	// swapLocks serializes per-swap state transitions (spec §5).
	swapLocks sync.Map // map[string]*sync.Mutex
}

func NewEngine(swaps store.SwapStore, infos store.SwapAddressInfoStore, currencies store.CurrencyStore, quotes QuoteSource, derive AddressDeriver, gasCost GasCostEstimator, emit Emitter, logger *zap.Logger) *Engine {
	return &Engine{
		swaps:      swaps,
		infos:      infos,
		currencies: currencies,
		quotes:     quotes,
		derive:     derive,
		gasCost:    gasCost,
		emit:       emit,
		logger:     logger,
	}
}

func (e *Engine) lockFor(m *sync.Map, key string) *sync.Mutex {
	actual, _ := m.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// CreateRequest is the input to CreateSwap.
type CreateRequest struct {
	FromCurrency     string
	FromNetwork      string
	ToCurrency       string
	ToNetwork        string
	Amount           float64
	RecipientAddress string
	RefundAddress    string
	ProviderHint     string
	RateType         store.RateType
	UserID           string
}

// CreateSwap implements the create_swap algorithm of spec §4.1: validate
// the pair, quote, allocate a fresh address index under the per-network
// lock, derive the deposit address, submit the upstream order, and
// persist Swap + SwapAddressInfo atomically, emitting swap.created.
func (e *Engine) CreateSwap(ctx context.Context, req CreateRequest) (*store.Swap, error) {
	if err := e.validatePair(req.FromCurrency, req.FromNetwork, req.ToCurrency, req.ToNetwork); err != nil {
		return nil, err
	}

	rate, err := e.quotes.GetRate(ctx, req.FromCurrency, req.ToCurrency, req.Amount)
	if err != nil {
		return nil, corerr.New(corerr.Upstream, corerr.CodeUpstreamError, "upstream declined to quote", err)
	}

	gasCostNative, err := e.gasCost(ctx, req.ToNetwork)
	if err != nil {
		gasCostNative = 0
		if e.logger != nil {
			e.logger.Warn("gas cost estimate failed during create_swap, proceeding with zero floor", zap.Error(err))
		}
	}
	quote := pricing.Price(rate.EstimatedReceive, req.Amount, 0, 1, gasCostNative)

	lock := e.lockFor(&e.networkLocks, req.ToNetwork)
	lock.Lock()
	defer lock.Unlock()

	maxIdx, err := e.swaps.MaxAddressIndex(req.ToNetwork)
	if err != nil {
		return nil, corerr.New(corerr.Internal, corerr.CodeStoreFailure, "reading max address index", err)
	}
	addressIndex := uint32(maxIdx + 1)

	ourAddress, err := e.derive.DeriveAddress(ctx, req.ToNetwork, addressIndex)
	if err != nil {
		return nil, corerr.New(corerr.Internal, "ERR_DERIVE_ADDRESS", "deriving deposit address", err)
	}

	trade, err := e.quotes.CreateTrade(ctx, upstream.CreateTradeRequest{
		FromCurrency:     req.FromCurrency,
		FromNetwork:      req.FromNetwork,
		ToCurrency:       req.ToCurrency,
		ToNetwork:        req.ToNetwork,
		Amount:           req.Amount,
		RecipientAddress: ourAddress,
		RefundAddress:    req.RefundAddress,
		RateType:         string(req.RateType),
		ProviderID:       req.ProviderHint,
	})
	if err != nil {
		return nil, corerr.New(corerr.Upstream, corerr.CodeUpstreamError, "upstream declined to create trade", err)
	}

	now := time.Now()
	expiresAt := trade.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultQuoteWindow)
	}

	sw := &store.Swap{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		ProviderID:       req.ProviderHint,
		ProviderSwapID:   trade.ID,
		FromCurrency:     req.FromCurrency,
		FromNetwork:      req.FromNetwork,
		ToCurrency:       req.ToCurrency,
		ToNetwork:        req.ToNetwork,
		Amount:           req.Amount,
		EstimatedReceive: quote.UserReceive,
		Rate:             rate.Rate,
		Fees: store.Fees{
			Platform: quote.PlatformFee,
			Total:    quote.PlatformFee,
		},
		DepositAddress:   trade.DepositAddress,
		DepositExtraID:   trade.DepositExtraID,
		RecipientAddress: req.RecipientAddress,
		RefundAddress:    req.RefundAddress,
		Status:           store.StatusWaiting,
		RateType:         req.RateType,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
		AddressIndex:     addressIndex,
	}
	if err := e.swaps.Create(sw); err != nil {
		return nil, err
	}

	info := &store.SwapAddressInfo{
		SwapID:           sw.ID,
		OurAddress:       ourAddress,
		AddressIndex:     addressIndex,
		BlockchainID:     req.ToNetwork,
		RecipientAddress: req.RecipientAddress,
		Status:           store.PayoutPending,
	}
	if err := e.infos.Create(info); err != nil {
		return nil, err
	}

	_ = e.swaps.AppendHistory(&store.SwapStatusHistory{
		SwapID: sw.ID, Status: sw.Status, Message: "swap created", Timestamp: now,
	})

	if e.emit != nil {
		if err := e.emit.Emit(ctx, "swap.created", sw.ID, sw); err != nil && e.logger != nil {
			e.logger.Warn("failed to emit swap.created", zap.String("swap_id", sw.ID), zap.Error(err))
		}
	}

	return sw, nil
}

func (e *Engine) validatePair(fromCurrency, fromNetwork, toCurrency, toNetwork string) error {
	from, err := e.currencies.Get(fromCurrency, fromNetwork)
	if err != nil {
		return corerr.New(corerr.Internal, corerr.CodeStoreFailure, "reading currency", err)
	}
	to, err := e.currencies.Get(toCurrency, toNetwork)
	if err != nil {
		return corerr.New(corerr.Internal, corerr.CodeStoreFailure, "reading currency", err)
	}
	if from == nil || !from.Active || to == nil || !to.Active {
		return corerr.New(corerr.Validation, corerr.CodeInvalidPair, fmt.Sprintf("pair %s/%s -> %s/%s is not listed or inactive", fromCurrency, fromNetwork, toCurrency, toNetwork), nil)
	}
	return nil
}

// GetSwap returns a swap by ID.
func (e *Engine) GetSwap(id string) (*store.Swap, error) {
	sw, err := e.swaps.Get(id)
	if err != nil {
		return nil, err
	}
	if sw == nil {
		return nil, corerr.New(corerr.Validation, "ERR_SWAP_NOT_FOUND", "swap not found", nil)
	}
	return sw, nil
}

// ListHistory paginates a user's swap history; see internal/store's
// keyset-pagination implementation for the cursor contract.
func (e *Engine) ListHistory(userID string, cursorToken string, filters store.HistoryFilters, limit int) (*store.Page, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	page, err := e.swaps.ListHistory(userID, cursor, filters, limit)
	if err != nil {
		return nil, err
	}
	if page.HasMore && len(page.Swaps) > 0 {
		last := page.Swaps[len(page.Swaps)-1]
		page.NextCursor = EncodeCursor(last.CreatedAt, last.ID, filters)
	}
	return page, nil
}

// Advance applies event to the swap, transitioning it along the state
// DAG and appending a SwapStatusHistory row. Re-applying the same event
// after it has already taken effect is a no-op that returns the swap's
// current status (spec §4.1: "Idempotent re-entry on every transition").
func (e *Engine) Advance(ctx context.Context, swapID string, event Event) (store.SwapStatus, error) {
	lock := e.lockFor(&e.swapLocks, swapID)
	lock.Lock()
	defer lock.Unlock()

	sw, err := e.swaps.Get(swapID)
	if err != nil {
		return "", err
	}
	if sw == nil {
		return "", corerr.New(corerr.Validation, "ERR_SWAP_NOT_FOUND", "swap not found", nil)
	}

	to, ok := Next(sw.Status, event)
	if !ok {
		// Idempotent re-entry: if the swap is already at a plausible
		// target for this event, treat the call as a no-op rather than an
		// error (e.g. a duplicated webhook delivery re-signals the same
		// transition after it already landed).
		if isNoOpReapplication(sw.Status, event) {
			return sw.Status, nil
		}
		return "", &ErrInvalidTransition{From: sw.Status, Event: event}
	}

	sw.Status = to
	sw.UpdatedAt = time.Now()
	if to == store.StatusCompleted {
		now := time.Now()
		sw.CompletedAt = &now
	}
	if err := e.swaps.Update(sw); err != nil {
		return "", err
	}
	if err := e.swaps.AppendHistory(&store.SwapStatusHistory{
		SwapID: sw.ID, Status: to, Message: string(event), Timestamp: sw.UpdatedAt,
	}); err != nil {
		return "", err
	}

	if e.emit != nil {
		if err := e.emit.Emit(ctx, eventForStatus(to), sw.ID, sw); err != nil && e.logger != nil {
			e.logger.Warn("failed to emit lifecycle webhook", zap.String("swap_id", sw.ID), zap.Error(err))
		}
	}

	return to, nil
}

// isNoOpReapplication recognizes an event being re-applied after it has
// already taken effect, rather than a genuinely invalid transition.
func isNoOpReapplication(current store.SwapStatus, event Event) bool {
	switch event {
	case EventDepositDetected:
		return current == store.StatusConfirming
	case EventConfirmed:
		return current == store.StatusExchanging
	case EventUpstreamDone:
		return current == store.StatusSending
	case EventFundsReceived:
		return current == store.StatusFundsReceived
	case EventPayoutCompleted:
		return current == store.StatusCompleted
	case EventExpired:
		return current == store.StatusExpired
	case EventFailed:
		return current == store.StatusFailed || current == store.StatusFailedManual
	case EventRefunded:
		return current == store.StatusRefunded
	default:
		return false
	}
}

func eventForStatus(s store.SwapStatus) string {
	switch s {
	case store.StatusWaiting:
		return "swap.pending"
	case store.StatusConfirming, store.StatusExchanging, store.StatusSending, store.StatusFundsReceived:
		return "swap.processing"
	case store.StatusCompleted:
		return "swap.completed"
	case store.StatusFailed, store.StatusFailedManual:
		return "swap.failed"
	case store.StatusExpired:
		return "swap.expired"
	default:
		return "swap.processing"
	}
}
