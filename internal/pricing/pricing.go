// Package pricing implements the commission-tier and slippage formulas of
// spec §4.7. It is pure and deterministic: given the same inputs it
// always returns the same Quote, which is what lets the rate-quote and
// estimate caches in internal/cache/internal/gasestimator memoize it.
package pricing

import "math"

// TierRate returns the platform commission rate for a trade of the given
// USD notional, before any volatility premium.
func TierRate(amountUSD float64) float64 {
	switch {
	case amountUSD < 200:
		return 0.012
	case amountUSD < 2000:
		return 0.007
	default:
		return 0.004
	}
}

// ProviderSpread is (max_quote - min_quote) / max_quote across the
// providers that returned a quote for this pair.
func ProviderSpread(quotes []float64) float64 {
	if len(quotes) == 0 {
		return 0
	}
	min, max := quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q < min {
			min = q
		}
		if q > max {
			max = q
		}
	}
	if max == 0 {
		return 0
	}
	return (max - min) / max
}

// volatilityPremiumThreshold and volatilityPremium implement the
// "provider_spread > 0.02 => tier_rate += 0.005" rule.
const (
	volatilityPremiumThreshold = 0.02
	volatilityPremium          = 0.005
)

// CommissionRate is the tier rate adjusted for provider-spread volatility.
func CommissionRate(amountUSD float64, providerSpread float64) float64 {
	rate := TierRate(amountUSD)
	if providerSpread > volatilityPremiumThreshold {
		rate += volatilityPremium
	}
	return rate
}

// GasFloor is 1.5x the native gas cost, the minimum commission the
// platform will ever accept (spec §4.7 and §4.3's gas-floor rule).
func GasFloor(gasCostNative float64) float64 {
	return gasCostNative * 1.5
}

// PlatformFee is max(tier_rate * amount_to, gas_floor).
func PlatformFee(amountTo float64, commissionRate float64, gasFloor float64) float64 {
	fee := commissionRate * amountTo
	if fee < gasFloor {
		return gasFloor
	}
	return fee
}

// Quote is the result of pricing a (from, to, amount) conversion.
type Quote struct {
	UserReceive      float64
	PlatformFee      float64
	EstimatedMin     float64
	EstimatedMax     float64
	SlippagePct      float64
	Warnings         []string
}

// slippageBaseline and its amount-bracket add-ons (spec §4.7).
const slippageBaseline = 0.001

func slippageBracket(amountUSD float64) float64 {
	switch {
	case amountUSD < 200:
		return 0.0005
	case amountUSD < 2000:
		return 0.001
	case amountUSD < 10000:
		return 0.002
	default:
		return 0.005
	}
}

// Price computes the full Quote for a conversion. amountTo is the gross
// amount of the destination asset before platform fee; amountUSD is the
// USD notional of the trade (used for tiering and warnings); providerSpread
// and numProviders characterize the quote dispersion across upstream
// providers; gasCostNative is the native-unit gas cost estimate for the
// payout transaction.
func Price(amountTo, amountUSD, providerSpread float64, numProviders int, gasCostNative float64) Quote {
	rate := CommissionRate(amountUSD, providerSpread)
	floor := GasFloor(gasCostNative)
	fee := PlatformFee(amountTo, rate, floor)
	userReceive := amountTo - fee

	slippagePct := slippageBaseline + slippageBracket(amountUSD) + providerSpread*0.5
	estimateMin := userReceive * (1 - slippagePct)
	estimateMax := userReceive * (1 + slippagePct*0.5)

	var warnings []string
	if slippagePct > 0.02 {
		warnings = append(warnings, "high_slippage")
	}
	if amountUSD > 10000 {
		warnings = append(warnings, "large_trade")
	}
	if numProviders < 2 {
		warnings = append(warnings, "limited_liquidity")
	}
	if providerSpread > 0.05 {
		warnings = append(warnings, "high_variance")
	}

	return Quote{
		UserReceive:  userReceive,
		PlatformFee:  fee,
		EstimatedMin: estimateMin,
		EstimatedMax: estimateMax,
		SlippagePct:  slippagePct,
		Warnings:     warnings,
	}
}

// EstimateBucket rounds amount down to the bucket size used as the
// second-tier estimate-cache key (spec §4.7): 0.001 below 0.01, 0.01
// below 1, 0.1 below 10, 1.0 otherwise.
func EstimateBucket(amount float64) float64 {
	var size float64
	switch {
	case amount < 0.01:
		size = 0.001
	case amount < 1:
		size = 0.01
	case amount < 10:
		size = 0.1
	default:
		size = 1.0
	}
	return math.Floor(amount/size) * size
}
