package cache

import (
	"math"
	"math/rand"
	"time"
)

// perDelta models the upstream recomputation latency (δ = 300ms) and
// perBeta is the aggressiveness knob (β = 1.5), both fixed by spec §4.7.
const (
	perDelta = 300 * time.Millisecond
	perBeta  = 1.5
)

// ShouldRecompute implements probabilistic early recomputation: a cached
// value whose remaining TTL satisfies
//
//	now + delta*beta*(-ln U) >= expires_at,  U in (0,1] uniform
//
// elects to refresh early. Called on every read of a cache hit; each call
// is an independent draw whose chance of electing rises as expiry nears.
// Concurrent readers that elect together are coalesced into one refresh
// by Recompute, not by this function.
func ShouldRecompute(now time.Time, expiresAt time.Time) bool {
	u := rand.Float64()
	if u <= 0 {
		u = 1e-9
	}
	lhs := now.Add(time.Duration(float64(perDelta) * perBeta * -math.Log(u)))
	return !lhs.Before(expiresAt)
}
