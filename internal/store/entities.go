// Package store defines the semantic persistence entities of spec §3 as Go
// interfaces, one per owned entity, grounded on the teacher's
// chainadapter/storage.TransactionStateStore shape (Get/Set/Delete/List/
// ListByStatus/Clean). The physical schema and migrations are out of scope
// per spec §1; what is in scope is this interface boundary plus an
// in-memory implementation (see memstore) sufficient to drive every
// operation and test end to end.
package store

import "time"

// SwapStatus is a value in the state DAG of spec §4.1.
type SwapStatus string

const (
	StatusWaiting       SwapStatus = "waiting"
	StatusConfirming    SwapStatus = "confirming"
	StatusExchanging    SwapStatus = "exchanging"
	StatusSending       SwapStatus = "sending"
	StatusFundsReceived SwapStatus = "funds_received"
	StatusCompleted     SwapStatus = "completed"
	StatusExpired       SwapStatus = "expired"
	StatusFailed        SwapStatus = "failed"
	StatusFailedManual  SwapStatus = "failed_manual"
	StatusRefunded      SwapStatus = "refunded"
)

// RateType is fixed or floating per spec §3.
type RateType string

const (
	RateFixed    RateType = "fixed"
	RateFloating RateType = "floating"
)

// Currency is reference data synced periodically from the upstream
// aggregator, keyed on (Ticker, Network).
type Currency struct {
	Network           string
	Ticker            string
	Decimals          int
	MinAmount         float64
	MaxAmount         float64
	RequiresExtraID   bool
	ContractAddress   string
	Active            bool
	UpdatedAt         time.Time
}

// Key returns the (ticker, network) composite key.
func (c Currency) Key() string { return c.Ticker + ":" + c.Network }

// Provider is reference data describing an upstream liquidity provider.
type Provider struct {
	ID                 string
	Slug               string
	KYCRating          string // "A", "B", "C", "D"
	ETAMinutes         int
	InsurancePercentage float64
	Active             bool
}

// Fees is the fee breakdown carried on a Swap; Total must equal the sum of
// the other three fields (invariant 1).
type Fees struct {
	Network  float64
	Provider float64
	Platform float64
	Total    float64
}

// Swap is the central entity owned by the swap lifecycle engine.
type Swap struct {
	ID               string
	UserID           string // optional, empty if anonymous
	ProviderID       string
	ProviderSwapID   string
	FromCurrency     string
	FromNetwork      string
	ToCurrency       string
	ToNetwork        string
	Amount           float64
	EstimatedReceive float64
	ActualReceive    float64
	Rate             float64
	Fees             Fees
	DepositAddress   string
	DepositExtraID   string
	RecipientAddress string
	RefundAddress    string
	TxHashIn         string
	TxHashOut        string
	Status           SwapStatus
	RateType         RateType
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AddressIndex     uint32
	CompletedAt      *time.Time
	Error            string // non-nil-equivalent summary when Status == failed
}

// SwapAddressInfoStatus is the payout sub-state tracked per swap.
type SwapAddressInfoStatus string

const (
	PayoutPending SwapAddressInfoStatus = "pending"
	PayoutSuccess SwapAddressInfoStatus = "success"
	PayoutFailed  SwapAddressInfoStatus = "failed"
)

// SwapAddressInfo is owned by the payout executor; SwapID is its primary key.
type SwapAddressInfo struct {
	SwapID               string
	OurAddress           string
	AddressIndex         uint32
	BlockchainID         string // chain family tag, e.g. "ethereum", "bitcoin", "solana"
	RecipientAddress     string
	CommissionRate       float64
	PayoutTxHash         string
	PayoutAmount         float64
	ActualReceived       float64
	CommissionTaken      float64
	Status               SwapAddressInfoStatus
	PayoutIdempotencyKey string // unique
	SignedAt             *time.Time
	BroadcastAt          *time.Time
	ConfirmedAt          *time.Time
	LastBalanceCheck     *time.Time
}

// SwapStatusHistory is an append-only audit log entry, grounded on the
// teacher's internal/services/audit/logger.go (adapted from a wallet audit
// log to a swap status log).
type SwapStatusHistory struct {
	SwapID    string
	Status    SwapStatus
	Message   string
	Timestamp time.Time
}

// PollingState tracks the upstream-status poller's per-swap cursor.
type PollingState struct {
	SwapID     string
	LastPolledAt time.Time
	NextPollAt   time.Time
	PollCount    int
	LastStatus   string
}

// TxStatus is the confirmation state of a refund or payout transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// RefundStatus is the refund pipeline's own state machine, distinct from
// Swap.Status.
type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
	RefundManual     RefundStatus = "manual"
)

// Refund is owned by the refund pipeline, paired with an append-only
// RefundHistory log.
type Refund struct {
	ID                   string
	SwapID               string
	IdempotencyKey       string // unique
	RefundAddress        string
	RefundAmount         float64
	RefundCurrency       string
	RefundNetwork        string
	TxHash               string
	TxStatus             TxStatus
	Confirmations        int
	RequiredConfirmations int
	AttemptNumber        int
	MaxAttempts          int
	NextRetryAt          time.Time
	LastError            string
	GasPrice             float64
	PriorityScore        float64
	Status               RefundStatus
	InitiatedAt          time.Time
	CompletedAt          *time.Time
}

// RefundHistory is an append-only log entry paired with Refund.
type RefundHistory struct {
	RefundID  string
	Status    RefundStatus
	Message   string
	Timestamp time.Time
}

// Webhook is owned by the registration API.
type Webhook struct {
	ID                string
	SwapID            string
	URL               string
	SecretKey         string
	SubscribedEvents  []string
	Enabled           bool
	RateLimitPerSecond float64
}

// WebhookDeliveryStatus tracks whether a delivery has exhausted retries.
type WebhookDelivery struct {
	ID               string
	WebhookID        string
	SwapID           string
	EventType        string
	IdempotencyKey   string // unique
	Payload          []byte
	Signature        string
	AttemptNumber    int
	MaxAttempts      int
	NextRetryAt      time.Time
	DeliveredAt      *time.Time
	ResponseStatus   int
	ResponseBody     string
	ResponseTimeMS   int64
	ErrorMessage     string
	IsDLQ            bool
}

// CircuitState is the shared three-state controller used by both the RPC
// multiplexer (per endpoint) and the webhook pipeline (per webhook).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitHalfOpen CircuitState = "half_open"
	CircuitOpen     CircuitState = "open"
)

// WebhookCircuitBreakerState is keyed by WebhookID.
type WebhookCircuitBreakerState struct {
	WebhookID         string
	State             CircuitState
	FailureCount      int
	SuccessCount      int
	TotalRequests     int
	OpenedAt          *time.Time
	HalfOpenAttempts  int
	TimeoutSeconds    int
}

// WebhookRateLimiterState is keyed by WebhookID, a token-bucket limiter.
type WebhookRateLimiterState struct {
	WebhookID       string
	TokensAvailable float64
	Capacity        float64
	RefillRate      float64
	LastRefillAt    time.Time
}
