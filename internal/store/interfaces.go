package store

import "time"

// HistoryFilters narrows a SwapStore.ListHistory call; zero values mean
// "no filter on this field".
type HistoryFilters struct {
	Status       SwapStatus
	FromCurrency string
	ToCurrency   string
	ProviderID   string
}

// Cursor is the decoded form of the keyset pagination token of spec §4.1:
// the last row's ordering columns plus a snapshot of the filters the
// cursor was minted under, so a later page request under different
// filters is rejected rather than silently producing a semantically
// different page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
	Filters   HistoryFilters
}

// Page is the result of a keyset-paginated history query.
type Page struct {
	Swaps      []*Swap
	NextCursor string // URL-safe base64 JSON; empty when HasMore is false
	HasMore    bool
}

// SwapStore is owned and mutated only by the swap lifecycle engine;
// every other component reads through it.
type SwapStore interface {
	Create(swap *Swap) error
	Get(id string) (*Swap, error)
	Update(swap *Swap) error
	// MaxAddressIndex returns the highest AddressIndex assigned so far for
	// the given destination network, or -1 if none has been assigned.
	// Callers MUST hold the per-network allocation lock before calling
	// this and persisting the next swap (spec §4.1, §5).
	MaxAddressIndex(network string) (int64, error)
	// ListHistory returns a keyset page ordered by (CreatedAt DESC, ID DESC).
	ListHistory(userID string, cursor *Cursor, filters HistoryFilters, limit int) (*Page, error)
	// ListNonTerminal returns swaps in a non-terminal status, for the
	// blockchain listener and refund detector's polling loops.
	ListNonTerminal() ([]*Swap, error)
	AppendHistory(entry *SwapStatusHistory) error
	History(swapID string) ([]*SwapStatusHistory, error)
}

// SwapAddressInfoStore is owned by the payout executor.
type SwapAddressInfoStore interface {
	Get(swapID string) (*SwapAddressInfo, error)
	Create(info *SwapAddressInfo) error
	Update(info *SwapAddressInfo) error
	// GetByIdempotencyKey supports payout idempotency: a duplicate key
	// returns the previously recorded row.
	GetByIdempotencyKey(key string) (*SwapAddressInfo, error)
	// TryAcquireIdempotencyKey performs an insert-if-null of the
	// PayoutIdempotencyKey on the swap's row; it returns (true, nil) only
	// if this call was the one that set the key.
	TryAcquireIdempotencyKey(swapID, key string) (bool, error)
}

// PollingStateStore is owned by the upstream-status poller.
type PollingStateStore interface {
	Get(swapID string) (*PollingState, error)
	Upsert(state *PollingState) error
	DueForPoll(now time.Time) ([]*PollingState, error)
}

// RefundStore is owned by the refund pipeline.
type RefundStore interface {
	Create(r *Refund) error
	Get(id string) (*Refund, error)
	GetByIdempotencyKey(key string) (*Refund, error)
	Update(r *Refund) error
	AppendHistory(h *RefundHistory) error
	// ListPending returns refunds with Status in {pending, processing} whose
	// NextRetryAt has elapsed, for the scheduler to pick up.
	ListPending(now time.Time) ([]*Refund, error)
}

// WebhookStore is owned by the registration API.
type WebhookStore interface {
	Create(w *Webhook) error
	Get(id string) (*Webhook, error)
	ListBySwap(swapID string) ([]*Webhook, error)
	ListSubscribed(eventType string) ([]*Webhook, error)
}

// WebhookDeliveryStore is owned by the webhook pipeline.
type WebhookDeliveryStore interface {
	Create(d *WebhookDelivery) error
	Get(id string) (*WebhookDelivery, error)
	GetByIdempotencyKey(key string) (*WebhookDelivery, error)
	Update(d *WebhookDelivery) error
	// ListDue returns non-DLQ deliveries whose NextRetryAt has elapsed.
	ListDue(now time.Time) ([]*WebhookDelivery, error)
	ListDLQ(webhookID string) ([]*WebhookDelivery, error)
}

// CircuitBreakerStateStore persists per-webhook circuit state for
// cross-replica coherence; the in-memory copy is authoritative for
// low-latency reads, the store is re-read on ambiguity (spec §5, §9).
type CircuitBreakerStateStore interface {
	Get(webhookID string) (*WebhookCircuitBreakerState, error)
	Upsert(state *WebhookCircuitBreakerState) error
}

// RateLimiterStateStore persists per-webhook token-bucket state.
type RateLimiterStateStore interface {
	Get(webhookID string) (*WebhookRateLimiterState, error)
	Upsert(state *WebhookRateLimiterState) error
}

// CurrencyStore and ProviderStore back the reference-data syncer.
type CurrencyStore interface {
	Upsert(c *Currency) error
	Get(ticker, network string) (*Currency, error)
	List() ([]*Currency, error)
}

type ProviderStore interface {
	Upsert(p *Provider) error
	Get(id string) (*Provider, error)
	List() ([]*Provider, error)
}
