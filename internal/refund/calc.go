// Package refund implements the automated refund pipeline of spec §4.5:
// detector, calculator, scheduler, processor, and tracker, all driven by
// a single background monitor.
package refund

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// DustThreshold returns the minimum refund amount below which a refund is
// skipped as dust (spec §4.5).
func DustThreshold(currency string) float64 {
	switch currency {
	case "BTC":
		return 0.0001
	case "ETH":
		return 0.001
	default:
		return 1.0 // USD-equivalent floor for every other currency
	}
}

// Amount computes refund_amount = deposit_amount - fees_paid - gas_cost_estimate.
func Amount(depositAmount, feesPaid, gasCostEstimate float64) float64 {
	return depositAmount - feesPaid - gasCostEstimate
}

// IsDust reports whether amount falls below currency's dust threshold.
func IsDust(amount float64, currency string) bool {
	return amount < DustThreshold(currency)
}

// PriorityScore implements spec §4.5's priority formula: higher runs
// first. ageHours and amountUSD are clamped to their stated ranges before
// weighting.
func PriorityScore(ageHours, amountUSD float64, attempt int) float64 {
	clampedAge := math.Min(ageHours, 10)
	clampedAmount := math.Min(amountUSD/100, 10)
	attemptTerm := math.Max(10-float64(attempt), 0)
	return 0.5*clampedAge + 0.3*clampedAmount + 0.2*attemptTerm
}

// RetryDelay implements min(60*2^attempt, 1800)s * (1 +- 10% jitter).
func RetryDelay(attempt int) time.Duration {
	base := 60 * (1 << uint(attempt))
	if base > 1800 {
		base = 1800
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(base) * jitter * float64(time.Second))
}

// GasEscalationMultiplier returns 1 + 0.1*attempt, capped at 2x (spec §4.5).
func GasEscalationMultiplier(attempt int) float64 {
	m := 1 + 0.1*float64(attempt)
	if m > 2 {
		return 2
	}
	return m
}

// IdempotencyKey is SHA256(swap_id || refund_address || deposit_amount || attempt_number).
func IdempotencyKey(swapID, refundAddress string, depositAmount float64, attempt int) string {
	input := fmt.Sprintf("%s|%s|%.8f|%d", swapID, refundAddress, depositAmount, attempt)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// MaxAttempts is the refund pipeline's hard attempt cap (spec §4.5).
const MaxAttempts = 5
