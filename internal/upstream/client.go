// Package upstream is the aggregator client of SPEC_FULL §4.9, grounded
// on the teacher's provider.BlockchainProvider / ProviderRegistry pattern
// (interface + registry + per-instance cache + health-gated fallback),
// generalized from "blockchain data provider" to "upstream swap
// aggregator". The HTTP routing/SDK-wrapping layer this client itself
// calls into is out of scope per spec §1; Client is the Go-level
// operations boundary such a layer would call.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status values consumed from the upstream aggregator (spec §6). "finished"
// is advisory only — the blockchain listener is authoritative for
// settlement (spec §4.1/§9).
type Status string

const (
	StatusNew        Status = "new"
	StatusWaiting    Status = "waiting"
	StatusConfirming Status = "confirming"
	StatusSending    Status = "sending"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
	StatusHalted     Status = "halted"
)

// Coin mirrors the upstream /coins entry, the source of truth the
// reference-data syncer upserts into store.Currency.
type Coin struct {
	Ticker          string  `json:"ticker"`
	Network         string  `json:"network"`
	Decimals        int     `json:"decimals"`
	MinAmount       float64 `json:"min_amount"`
	MaxAmount       float64 `json:"max_amount"`
	RequiresExtraID bool    `json:"requires_extra_id"`
	ContractAddress string  `json:"contract_address,omitempty"`
}

// Exchange mirrors the upstream /exchanges entry (provider reference data).
type Exchange struct {
	ID                  string  `json:"id"`
	Slug                string  `json:"slug"`
	KYCRating           string  `json:"kyc_rating"`
	ETAMinutes          int     `json:"eta_minutes"`
	InsurancePercentage float64 `json:"insurance_percentage"`
	Active              bool    `json:"active"`
}

// Rate is the response of /new_rate: a real, tradeable quote.
type Rate struct {
	TradeID       string  `json:"trade_id"`
	FromCurrency  string  `json:"from_currency"`
	ToCurrency    string  `json:"to_currency"`
	Amount        float64 `json:"amount"`
	EstimatedReceive float64 `json:"estimated_receive"`
	Rate          float64 `json:"rate"`
	ProviderID    string  `json:"provider_id"`
}

// CreateTradeRequest is the body of /new_trade.
type CreateTradeRequest struct {
	FromCurrency     string  `json:"from_currency"`
	FromNetwork      string  `json:"from_network"`
	ToCurrency       string  `json:"to_currency"`
	ToNetwork        string  `json:"to_network"`
	Amount           float64 `json:"amount"`
	RecipientAddress string  `json:"recipient_address"`
	RefundAddress    string  `json:"refund_address"`
	RateType         string  `json:"rate_type"`
	ProviderID       string  `json:"provider_id,omitempty"`
}

// Trade is the response of /new_trade and /trade?id=….
type Trade struct {
	ID               string  `json:"id"`
	Status           Status  `json:"status"`
	DepositAddress   string  `json:"deposit_address"`
	DepositExtraID   string  `json:"deposit_extra_id,omitempty"`
	FromCurrency     string  `json:"from_currency"`
	ToCurrency       string  `json:"to_currency"`
	Amount           float64 `json:"amount"`
	EstimatedReceive float64 `json:"estimated_receive"`
	ActualReceive    float64 `json:"actual_receive,omitempty"`
	TxHashIn         string  `json:"tx_hash_in,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Client is the upstream aggregator's Go-level operations boundary.
type Client interface {
	ListCoins(ctx context.Context) ([]Coin, error)
	ListExchanges(ctx context.Context) ([]Exchange, error)
	GetRate(ctx context.Context, from, to string, amount float64) (*Rate, error)
	CreateTrade(ctx context.Context, req CreateTradeRequest) (*Trade, error)
	GetTrade(ctx context.Context, id string) (*Trade, error)
}

// httpClient implements Client over the upstream's REST surface,
// authenticated with an API-Key header (spec §6).
type httpClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds an upstream.Client. httpDoer is the single shared
// *http.Client with connection pooling described in spec §5; passing one
// in rather than constructing our own keeps that sharing explicit.
func NewClient(baseURL, apiKey string, httpDoer *http.Client) Client {
	if httpDoer == nil {
		httpDoer = &http.Client{Timeout: 5 * time.Second}
	}
	return &httpClient{baseURL: baseURL, apiKey: apiKey, httpClient: httpDoer}
}

func (c *httpClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpClient) ListCoins(ctx context.Context) ([]Coin, error) {
	var coins []Coin
	if err := c.do(ctx, http.MethodGet, "/coins", nil, &coins); err != nil {
		return nil, err
	}
	return coins, nil
}

func (c *httpClient) ListExchanges(ctx context.Context) ([]Exchange, error) {
	var exchanges []Exchange
	if err := c.do(ctx, http.MethodGet, "/exchanges", nil, &exchanges); err != nil {
		return nil, err
	}
	return exchanges, nil
}

func (c *httpClient) GetRate(ctx context.Context, from, to string, amount float64) (*Rate, error) {
	path := fmt.Sprintf("/new_rate?from=%s&to=%s&amount=%f", from, to, amount)
	var rate Rate
	if err := c.do(ctx, http.MethodGet, path, nil, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

func (c *httpClient) CreateTrade(ctx context.Context, req CreateTradeRequest) (*Trade, error) {
	var trade Trade
	if err := c.do(ctx, http.MethodPost, "/new_trade", req, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

func (c *httpClient) GetTrade(ctx context.Context, id string) (*Trade, error) {
	var trade Trade
	if err := c.do(ctx, http.MethodGet, "/trade?id="+id, nil, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}
