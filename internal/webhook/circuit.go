package webhook

import (
	"time"

	"github.com/veilswap/core/internal/store"
)

// windowSize is the number of recent requests the failure rate is
// computed over; distinct from rpcmux's per-attempt scoring window
// (spec §4.6 gives the webhook breaker its own thresholds).
const windowSize = 10

// failureRateThreshold opens the circuit once failure_rate over the last
// windowSize requests reaches this.
const failureRateThreshold = 0.5

// baseTimeout is the initial OPEN duration; it doubles on every
// subsequent trip, capped at maxTimeout (spec §4.6).
const baseTimeout = time.Hour
const maxTimeout = 24 * time.Hour

// halfOpenProbesToClose is how many consecutive successful probes in
// HALF_OPEN are required to close the circuit.
const halfOpenProbesToClose = 3

// NewCircuitState returns a closed breaker for a fresh webhook.
// TimeoutSeconds starts at zero so the first trip opens at exactly
// baseTimeout; trip() only doubles a timeout that has already been set by
// a prior trip.
func NewCircuitState(webhookID string) *store.WebhookCircuitBreakerState {
	return &store.WebhookCircuitBreakerState{
		WebhookID: webhookID,
		State:     store.CircuitClosed,
	}
}

// Admit reports whether a delivery attempt may proceed, transitioning
// OPEN to HALF_OPEN once the timeout has elapsed.
func Admit(s *store.WebhookCircuitBreakerState, now time.Time) bool {
	switch s.State {
	case store.CircuitClosed:
		return true
	case store.CircuitOpen:
		if s.OpenedAt != nil && now.Sub(*s.OpenedAt) >= time.Duration(s.TimeoutSeconds)*time.Second {
			s.State = store.CircuitHalfOpen
			s.HalfOpenAttempts = 0
			return true
		}
		return false
	case store.CircuitHalfOpen:
		return s.HalfOpenAttempts < halfOpenProbesToClose
	default:
		return true
	}
}

// RecordOutcome folds a delivery attempt's result into the breaker state,
// applying the windowed failure-rate rule in CLOSED, the probe-count rule
// in HALF_OPEN, and re-opening with a doubled timeout on any HALF_OPEN
// failure.
func RecordOutcome(s *store.WebhookCircuitBreakerState, success bool, now time.Time) {
	switch s.State {
	case store.CircuitClosed:
		s.TotalRequests++
		if success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		if s.TotalRequests >= windowSize {
			rate := float64(s.FailureCount) / float64(s.TotalRequests)
			if rate >= failureRateThreshold {
				trip(s, now)
			}
			s.TotalRequests, s.FailureCount, s.SuccessCount = 0, 0, 0
		}
	case store.CircuitHalfOpen:
		if success {
			s.HalfOpenAttempts++
			if s.HalfOpenAttempts >= halfOpenProbesToClose {
				s.State = store.CircuitClosed
				s.TotalRequests, s.FailureCount, s.SuccessCount, s.HalfOpenAttempts = 0, 0, 0, 0
				s.TimeoutSeconds = int(baseTimeout.Seconds())
			}
		} else {
			trip(s, now)
		}
	case store.CircuitOpen:
		// Outcomes recorded while OPEN (a race with Admit) don't change state.
	}
}

func trip(s *store.WebhookCircuitBreakerState, now time.Time) {
	s.State = store.CircuitOpen
	s.OpenedAt = &now
	doubled := time.Duration(s.TimeoutSeconds) * time.Second * 2
	if s.TimeoutSeconds == 0 {
		doubled = baseTimeout
	}
	if doubled > maxTimeout {
		doubled = maxTimeout
	}
	s.TimeoutSeconds = int(doubled.Seconds())
}
