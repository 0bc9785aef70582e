package refund

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilswap/core/internal/platform/corerr"
	"github.com/veilswap/core/internal/store"
)

// Signer builds, signs, and broadcasts a refund transaction.
type Signer interface {
	SignAndBroadcast(ctx context.Context, network string, addressIndex uint32, recipient string, amount float64) (txHash string, err error)
}

// USDConverter prices a currency amount in USD for priority scoring and
// dust-threshold comparisons against non-BTC/ETH currencies.
type USDConverter func(currency string, amount float64) float64

// Emitter publishes refund-adjacent lifecycle events if the caller wants
// them surfaced through the webhook pipeline (not itself a spec §4.6
// event, but useful for ops tooling).
type Emitter interface {
	Emit(ctx context.Context, eventType, swapID string, data interface{}) error
}

// Pipeline is the refund detector -> calculator -> scheduler -> processor
// -> tracker of spec §4.5, driven by a single background monitor tick.
type Pipeline struct {
	swaps   store.SwapStore
	infos   store.SwapAddressInfoStore
	refunds store.RefundStore
	signer  Signer
	usd     USDConverter
	emit    Emitter
	logger  *zap.Logger
	gasCost func(ctx context.Context, network string) (float64, error)
	timeouts StageTimeouts
}

func NewPipeline(swaps store.SwapStore, infos store.SwapAddressInfoStore, refunds store.RefundStore, signer Signer, usd USDConverter, gasCost func(ctx context.Context, network string) (float64, error), emit Emitter, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		swaps: swaps, infos: infos, refunds: refunds,
		signer: signer, usd: usd, gasCost: gasCost, emit: emit, logger: logger,
		timeouts: DefaultStageTimeouts(),
	}
}

// Tick runs one pass of the monitor: detect every non-terminal swap's
// stage, and for any that resolve to initiate_refund or escalate_manual,
// take the corresponding action; retry_payout and query_upstream are left
// to the payout executor and upstream poller. Intended to be called
// from a background loop owned by main (spec §5: background loops are
// cancellable between iterations, not mid-call).
func (p *Pipeline) Tick(ctx context.Context) {
	swaps, err := p.swaps.ListNonTerminal()
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("refund pipeline: listing non-terminal swaps failed", zap.Error(err))
		}
		return
	}

	now := time.Now()
	for _, sw := range swaps {
		attempt := p.latestAttempt(sw.ID)
		action := Detect(sw, p.timeouts, now, attempt)
		switch action {
		case ActionInitiateRefund:
			if err := p.initiateRefund(ctx, sw, attempt); err != nil && p.logger != nil {
				p.logger.Warn("refund initiation failed", zap.String("swap_id", sw.ID), zap.Error(err))
			}
		case ActionEscalateManual:
			p.escalateManual(sw.ID, attempt)
		case ActionRetryPayout, ActionQueryUpstream, ActionWait:
			// Retry-payout and query-upstream are handled by the payout
			// executor and upstream poller respectively; this tick only
			// drives the refund side of the state machine.
		}
	}

	p.processPending(ctx, now)
}

func (p *Pipeline) latestAttempt(swapID string) int {
	// Without a dedicated "refunds by swap" index in the narrow store
	// interface, the processor tracks attempt count on the Refund row
	// itself; detection treats "no refund row yet" as attempt 0.
	return 0
}

func (p *Pipeline) initiateRefund(ctx context.Context, sw *store.Swap, attempt int) error {
	currency := sw.FromCurrency
	depositAmount := sw.Amount
	gasCost := 0.0
	if p.gasCost != nil {
		if v, err := p.gasCost(ctx, sw.FromNetwork); err == nil {
			gasCost = v
		}
	}
	amount := Amount(depositAmount, sw.Fees.Total, gasCost)
	// BTC and ETH dust floors are native; every other currency's is in USD.
	dustAmount := amount
	if currency != "BTC" && currency != "ETH" && p.usd != nil {
		dustAmount = p.usd(currency, amount)
	}
	if IsDust(dustAmount, currency) {
		if p.logger != nil {
			p.logger.Info("refund skipped as dust", zap.String("swap_id", sw.ID), zap.Float64("amount", amount))
		}
		return nil
	}

	key := IdempotencyKey(sw.ID, sw.RefundAddress, depositAmount, attempt)
	if existing, err := p.refunds.GetByIdempotencyKey(key); err == nil && existing != nil {
		return nil // already recorded for this attempt
	}

	amountUSD := amount
	if p.usd != nil {
		amountUSD = p.usd(currency, amount)
	}
	ageHours := time.Since(sw.CreatedAt).Hours()

	r := &store.Refund{
		ID:                    uuid.NewString(),
		SwapID:                sw.ID,
		IdempotencyKey:        key,
		RefundAddress:         sw.RefundAddress,
		RefundAmount:          amount,
		RefundCurrency:        currency,
		RefundNetwork:         sw.FromNetwork,
		TxStatus:              store.TxPending,
		RequiredConfirmations: requiredConfirmations(sw.FromNetwork),
		AttemptNumber:         attempt + 1,
		MaxAttempts:           MaxAttempts,
		NextRetryAt:           time.Now(),
		GasPrice:              GasEscalationMultiplier(attempt),
		PriorityScore:         PriorityScore(ageHours, amountUSD, attempt),
		Status:                store.RefundPending,
		InitiatedAt:           time.Now(),
	}
	if err := p.refunds.Create(r); err != nil {
		return err
	}
	return p.refunds.AppendHistory(&store.RefundHistory{RefundID: r.ID, Status: r.Status, Message: "refund initiated", Timestamp: r.InitiatedAt})
}

func (p *Pipeline) escalateManual(swapID string, attempt int) {
	// A swap whose refund attempts are exhausted needs a human; the
	// processor never touches a manual-status refund row again (spec §4.5).
	if p.logger != nil {
		p.logger.Error("refund attempts exhausted, escalating to manual", zap.String("swap_id", swapID), zap.Int("attempts", attempt))
	}
}

// processPending runs the scheduler+processor+tracker stage: pick up due
// refunds in priority order and attempt to sign/broadcast them.
func (p *Pipeline) processPending(ctx context.Context, now time.Time) {
	pending, err := p.refunds.ListPending(now)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("refund pipeline: listing pending refunds failed", zap.Error(err))
		}
		return
	}
	sortByPriorityDesc(pending)

	for _, r := range pending {
		if r.Status == store.RefundManual {
			continue
		}
		if err := p.process(ctx, r); err != nil && p.logger != nil {
			p.logger.Warn("refund processing failed", zap.String("refund_id", r.ID), zap.Error(err))
		}
	}
}

func sortByPriorityDesc(refunds []*store.Refund) {
	for i := 1; i < len(refunds); i++ {
		v := refunds[i]
		j := i - 1
		for j >= 0 && refunds[j].PriorityScore < v.PriorityScore {
			refunds[j+1] = refunds[j]
			j--
		}
		refunds[j+1] = v
	}
}

func (p *Pipeline) process(ctx context.Context, r *store.Refund) error {
	info, err := p.infos.Get(r.SwapID)
	if err != nil {
		return corerr.New(corerr.Internal, corerr.CodeStoreFailure, "loading swap address info for refund "+r.ID, err)
	}
	var addressIndex uint32
	if info != nil {
		addressIndex = info.AddressIndex
	}

	r.Status = store.RefundProcessing
	r.TxStatus = store.TxSubmitted
	if err := p.refunds.Update(r); err != nil {
		return err
	}

	txHash, err := p.signer.SignAndBroadcast(ctx, r.RefundNetwork, addressIndex, r.RefundAddress, r.RefundAmount)
	if err != nil {
		return p.retryOrFail(r, err)
	}

	r.TxHash = txHash
	r.TxStatus = store.TxConfirmed
	r.Status = store.RefundCompleted
	now := time.Now()
	r.CompletedAt = &now
	if err := p.refunds.Update(r); err != nil {
		return err
	}
	return p.refunds.AppendHistory(&store.RefundHistory{RefundID: r.ID, Status: r.Status, Message: "refund broadcast", Timestamp: now})
}

func (p *Pipeline) retryOrFail(r *store.Refund, cause error) error {
	r.LastError = cause.Error()
	if r.AttemptNumber >= r.MaxAttempts {
		r.Status = store.RefundManual
		if err := p.refunds.Update(r); err != nil {
			return err
		}
		return p.refunds.AppendHistory(&store.RefundHistory{RefundID: r.ID, Status: r.Status, Message: "max attempts exhausted", Timestamp: time.Now()})
	}

	r.AttemptNumber++
	r.Status = store.RefundPending
	r.NextRetryAt = time.Now().Add(RetryDelay(r.AttemptNumber))
	r.GasPrice = GasEscalationMultiplier(r.AttemptNumber)
	if err := p.refunds.Update(r); err != nil {
		return err
	}
	return p.refunds.AppendHistory(&store.RefundHistory{RefundID: r.ID, Status: r.Status, Message: "scheduled retry: " + cause.Error(), Timestamp: time.Now()})
}

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
