package webhook

import (
	"time"

	"github.com/veilswap/core/internal/store"
)

// defaultRateLimitPerSecond is used when a Webhook row leaves
// RateLimitPerSecond at its zero value.
const defaultRateLimitPerSecond = 5.0

// defaultBucketCapacity bounds burst size to twice the steady-state rate.
func defaultBucketCapacity(rate float64) float64 {
	if rate <= 0 {
		rate = defaultRateLimitPerSecond
	}
	return rate * 2
}

// Allow applies the token-bucket algorithm against a persisted
// WebhookRateLimiterState, refilling tokens for elapsed time before
// deciding whether to admit one delivery attempt. The caller is
// responsible for persisting the returned state via
// RateLimiterStateStore.Upsert regardless of the verdict.
func Allow(state *store.WebhookRateLimiterState, rate float64, now time.Time) (*store.WebhookRateLimiterState, bool) {
	if state == nil {
		state = &store.WebhookRateLimiterState{
			TokensAvailable: defaultBucketCapacity(rate),
			Capacity:        defaultBucketCapacity(rate),
			RefillRate:      rate,
			LastRefillAt:    now,
		}
	}
	elapsed := now.Sub(state.LastRefillAt).Seconds()
	if elapsed > 0 {
		state.TokensAvailable += elapsed * state.RefillRate
		if state.TokensAvailable > state.Capacity {
			state.TokensAvailable = state.Capacity
		}
		state.LastRefillAt = now
	}

	if state.TokensAvailable < 1 {
		return state, false
	}
	state.TokensAvailable--
	return state, true
}
