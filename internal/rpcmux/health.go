// Package rpcmux is the RPC multiplexer of spec §4.4: per-chain, per-
// endpoint health scoring, selection strategies, and circuit-breaker-gated
// failover. It is the richer, generalized successor to the teacher's
// chainadapter/rpc.SimpleHealthTracker, reusing its rpc.RPCClient HTTP
// transport (internal/chainadapter/rpc) underneath a composite scoring
// model the teacher never implemented.
package rpcmux

import (
	"sync"
	"time"
)

// maxLatencySamples bounds the deque used for the P95 latency estimate.
const maxLatencySamples = 100

// maxRollingRequests bounds the window success_rate is computed over
// (spec §4.4: "over last 100 requests").
const maxRollingRequests = 100

// HealthRecord is the live health state of one RPC endpoint.
type HealthRecord struct {
	mu sync.Mutex

	circuit CircuitState

	latencies []float64 // capped ring of recent latencies, ms
	outcomes  []bool    // capped ring of recent call outcomes (true = success)

	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	timeoutSeconds        int // doubles per reopen, capped at 24h
	halfOpenAttempts     int

	availabilityEMA float64 // EMA(is_responsive, alpha=0.2), in [0,1]
	emaInitialized  bool

	lastBlockHeight uint64
	lastBlockTime   time.Time
}

// NewHealthRecord returns a closed-circuit record with the default
// half-open timeout of 30s.
func NewHealthRecord() *HealthRecord {
	return &HealthRecord{
		circuit:        CircuitClosed,
		timeoutSeconds: 30,
	}
}

const emaAlpha = 0.2

// RecordOutcome records a completed call's latency and success/failure,
// updating the rolling windows, availability EMA, and circuit breaker.
func (h *HealthRecord) RecordOutcome(success bool, latencyMS float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.outcomes = append(h.outcomes, success)
	if len(h.outcomes) > maxRollingRequests {
		h.outcomes = h.outcomes[len(h.outcomes)-maxRollingRequests:]
	}
	h.latencies = append(h.latencies, latencyMS)
	if len(h.latencies) > maxLatencySamples {
		h.latencies = h.latencies[len(h.latencies)-maxLatencySamples:]
	}

	responsive := 0.0
	if success {
		responsive = 1.0
	}
	if !h.emaInitialized {
		h.availabilityEMA = responsive
		h.emaInitialized = true
	} else {
		h.availabilityEMA = emaAlpha*responsive + (1-emaAlpha)*h.availabilityEMA
	}

	if success {
		h.consecutiveSuccesses++
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
		h.consecutiveSuccesses = 0
	}

	h.applyCircuitTransition(success)
}

// RecordBlockHeight is fed by the multiplexer's background health-check
// loop (spec §4.4: "issuing a block-height query per endpoint" every
// health_check_interval).
func (h *HealthRecord) RecordBlockHeight(height uint64, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastBlockHeight = height
	h.lastBlockTime = at
}

// applyCircuitTransition implements the CLOSED/OPEN/HALF_OPEN state
// machine of spec §4.4. Caller must hold h.mu.
func (h *HealthRecord) applyCircuitTransition(success bool) {
	total := len(h.outcomes)
	failures := 0
	for _, ok := range h.outcomes {
		if !ok {
			failures++
		}
	}
	failureRate := 0.0
	if total > 0 {
		failureRate = float64(failures) / float64(total)
	}

	switch h.circuit {
	case CircuitClosed:
		if failureRate > 0.2 && total >= 5 {
			h.tripOpen()
		}
	case CircuitHalfOpen:
		if success {
			if h.consecutiveSuccesses >= 3 {
				h.closeCircuit()
			}
		} else {
			h.tripOpen()
		}
	case CircuitOpen:
		// Transitions out of OPEN happen in ReadyForProbe/EnterHalfOpen,
		// driven by elapsed time rather than call outcomes.
	}
}

func (h *HealthRecord) tripOpen() {
	if h.circuit == CircuitHalfOpen {
		// Reopening after a failed probe: double the timeout up to a 24h cap.
		h.timeoutSeconds *= 2
		if h.timeoutSeconds > 24*3600 {
			h.timeoutSeconds = 24 * 3600
		}
	}
	h.circuit = CircuitOpen
	h.openedAt = time.Now()
	h.halfOpenAttempts = 0
}

func (h *HealthRecord) closeCircuit() {
	h.circuit = CircuitClosed
	h.consecutiveFailures = 0
	h.consecutiveSuccesses = 0
	h.outcomes = nil
	h.timeoutSeconds = 30
	h.halfOpenAttempts = 0
}

// halfOpenMaxRequests is the default "up to 3 test calls" budget (spec §4.4).
const halfOpenMaxRequests = 3

// Admit reports whether a call may proceed against this endpoint right
// now, transitioning OPEN -> HALF_OPEN when the timeout has elapsed and
// admitting at most halfOpenMaxRequests probes per HALF_OPEN period.
func (h *HealthRecord) Admit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.circuit {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(h.openedAt) >= time.Duration(h.timeoutSeconds)*time.Second {
			h.circuit = CircuitHalfOpen
			h.halfOpenAttempts = 0
			h.consecutiveSuccesses = 0
			h.consecutiveFailures = 0
		} else {
			return false
		}
		fallthrough
	case CircuitHalfOpen:
		if h.halfOpenAttempts >= halfOpenMaxRequests {
			return false
		}
		h.halfOpenAttempts++
		return true
	}
	return false
}

// State returns the current circuit state.
func (h *HealthRecord) State() CircuitState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.circuit
}

// Score computes the composite health score of spec §4.4:
//
//	score = 0.3*availability + 0.3*latency_score + 0.3*success_rate + 0.1*freshness
func (h *HealthRecord) Score(now time.Time) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	availability := h.availabilityEMA
	if !h.emaInitialized {
		availability = 1.0 // new endpoint, assume healthy
	}

	p95 := percentile(h.latencies, 0.95)
	latencyScore := 1 - min1(p95/5000.0)

	successRate := 1.0
	if len(h.outcomes) > 0 {
		successes := 0
		for _, ok := range h.outcomes {
			if ok {
				successes++
			}
		}
		successRate = float64(successes) / float64(len(h.outcomes))
	}

	freshness := 1.0
	if !h.lastBlockTime.IsZero() {
		ageMS := float64(now.Sub(h.lastBlockTime).Milliseconds())
		freshness = 1 - min1(ageMS/60000.0)
	}

	return 0.3*availability + 0.3*latencyScore + 0.3*successRate + 0.1*freshness
}

// P95LatencyMS exposes the raw P95 for the least-latency strategy.
func (h *HealthRecord) P95LatencyMS() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return percentile(h.latencies, 0.95)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// percentile computes an approximate percentile over an unsorted sample
// slice without mutating the caller's backing array.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	// insertion sort: sample sizes are capped at maxLatencySamples (100)
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
