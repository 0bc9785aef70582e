package rpcmux

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/multierr"

	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/platform/corerr"
)

// Endpoint is one configured RPC endpoint for a chain (spec §4.4).
type Endpoint struct {
	URL       string
	Priority  int // 1..10, lower is preferred
	Weight    int
	TimeoutMS int
	Auth      string

	client rpc.RPCClient
}

// Multiplexer selects among a chain's configured endpoints using a
// configurable Strategy, with circuit-breaker-gated failover and
// exponential backoff between attempts (spec §4.4).
type Multiplexer struct {
	chain      string
	strategy   Strategy
	endpoints  []*Endpoint
	health     map[string]*HealthRecord
	rr         *roundRobinState
	healthLoop *healthCheckLoop
}

// NewMultiplexer builds a multiplexer over already-constructed per-endpoint
// RPC clients (one rpc.RPCClient per Endpoint, typically an
// rpc.HTTPRPCClient from internal/chainadapter/rpc).
func NewMultiplexer(chain string, strategy Strategy, endpoints []*Endpoint, clients map[string]rpc.RPCClient) *Multiplexer {
	health := make(map[string]*HealthRecord, len(endpoints))
	for _, ep := range endpoints {
		ep.client = clients[ep.URL]
		health[ep.URL] = NewHealthRecord()
	}
	return &Multiplexer{
		chain:     chain,
		strategy:  strategy,
		endpoints: endpoints,
		health:    health,
		rr:        newRoundRobinState(),
	}
}

// maxAttemptsFor implements "up to min(len(endpoints), 3) attempts per
// logical call" (spec §4.4).
func (m *Multiplexer) maxAttemptsFor() int {
	if len(m.endpoints) < 3 {
		return len(m.endpoints)
	}
	return 3
}

// Call performs method against the best-ranked admissible endpoint,
// failing over to the next-best on error with exponential + jittered
// backoff between attempts. Once the attempts are used up or every
// remaining endpoint is circuit-open, returns a corerr.RPCNetwork error
// with code CodeNoHealthyEndpoints.
func (m *Multiplexer) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	attempts := m.maxAttemptsFor()
	if attempts == 0 {
		return nil, corerr.New(corerr.RPCNetwork, corerr.CodeNoHealthyEndpoints, "no endpoints configured for chain "+m.chain, nil)
	}

	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		cands := m.admissibleCandidates(tried)
		if len(cands) == 0 {
			break
		}
		chosen := selectEndpoint(m.strategy, cands, m.rr)
		if chosen == nil {
			break
		}
		tried[chosen.ep.URL] = true

		start := time.Now()
		result, err := chosen.ep.client.Call(ctx, method, params)
		latencyMS := float64(time.Since(start).Milliseconds())
		chosen.health.RecordOutcome(err == nil, latencyMS)

		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt < attempts-1 {
			if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
		}
	}

	if lastErr == nil {
		lastErr = corerr.New(corerr.RPCNetwork, corerr.CodeNoHealthyEndpoints, "every endpoint for "+m.chain+" is circuit-open", nil)
	}
	return nil, corerr.New(corerr.RPCNetwork, corerr.CodeNoHealthyEndpoints, "all attempts failed for "+m.chain, lastErr)
}

func (m *Multiplexer) admissibleCandidates(exclude map[string]bool) []candidate {
	out := make([]candidate, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if exclude[ep.URL] {
			continue
		}
		out = append(out, candidate{ep: ep, health: m.health[ep.URL]})
	}
	return out
}

// sleepBackoff waits min(100ms * 2^attempt, 30s) * (1 +- 10% jitter),
// respecting context cancellation (spec §4.4).
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 100 * time.Millisecond
	delay := base << uint(attempt)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	d := time.Duration(float64(delay) * jitter)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BlockHeightProber fetches the current block height for one endpoint,
// used by the background health-check loop.
type BlockHeightProber func(ctx context.Context, endpoint *Endpoint) (uint64, error)

type healthCheckLoop struct {
	cancel context.CancelFunc
}

// StartHealthCheckLoop runs prober against every endpoint every interval
// (default 30s per spec §4.4), recording the observed block height into
// each endpoint's HealthRecord for the freshness term of Score. It is
// cancellable via ctx; callers should pass a context tied to the
// process's shutdown signal (spec §5).
func (m *Multiplexer) StartHealthCheckLoop(ctx context.Context, interval time.Duration, prober BlockHeightProber) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx, prober)
			}
		}
	}()
}

func (m *Multiplexer) probeAll(ctx context.Context, prober BlockHeightProber) {
	for _, ep := range m.endpoints {
		height, err := prober(ctx, ep)
		if err != nil {
			m.health[ep.URL].RecordOutcome(false, 0)
			continue
		}
		m.health[ep.URL].RecordBlockHeight(height, time.Now())
	}
}

// HealthSnapshot exposes per-endpoint state for metrics/debugging.
type HealthSnapshot struct {
	URL     string
	State   CircuitState
	Score   float64
	P95MS   float64
}

func (m *Multiplexer) Snapshot() []HealthSnapshot {
	now := time.Now()
	out := make([]HealthSnapshot, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		h := m.health[ep.URL]
		out = append(out, HealthSnapshot{
			URL:   ep.URL,
			State: h.State(),
			Score: h.Score(now),
			P95MS: h.P95LatencyMS(),
		})
	}
	return out
}

// Close releases every endpoint's underlying RPC client. One endpoint
// failing to close cleanly should never stop the rest from being tried, so
// errors are collected rather than returned on first failure.
func (m *Multiplexer) Close() error {
	var err error
	for _, ep := range m.endpoints {
		if ep.client == nil {
			continue
		}
		err = multierr.Append(err, ep.client.Close())
	}
	return err
}
