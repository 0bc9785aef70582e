package rpcmux

import (
	"sort"
	"time"
)

// Strategy is a per-chain endpoint selection policy (spec §4.4).
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyLeastLatency       Strategy = "least_latency"
	StrategyHealthScore        Strategy = "health_score"
)

// candidate pairs an endpoint with its current health record for sorting.
type candidate struct {
	ep     *Endpoint
	health *HealthRecord
}

// selectEndpoint picks the next endpoint to try, skipping any with an open
// (non-admitting) circuit. Ties are broken by lower priority number, then
// by URL lexicographic order, matching spec §4.4.
func selectEndpoint(strategy Strategy, candidates []candidate, rr *roundRobinState) *candidate {
	admissible := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.health.Admit() {
			admissible = append(admissible, c)
		}
	}
	if len(admissible) == 0 {
		return nil
	}

	switch strategy {
	case StrategyRoundRobin:
		idx := rr.next(len(admissible))
		return &admissible[idx]
	case StrategyWeightedRoundRobin:
		return smoothWeightedPick(admissible, rr)
	case StrategyLeastLatency:
		sort.SliceStable(admissible, func(i, j int) bool {
			li, lj := admissible[i].health.P95LatencyMS(), admissible[j].health.P95LatencyMS()
			if li != lj {
				return li < lj
			}
			return tiebreak(admissible[i].ep, admissible[j].ep)
		})
		return &admissible[0]
	case StrategyHealthScore:
		fallthrough
	default:
		now := time.Now()
		// Prefer the lowest priority number among non-open endpoints, then
		// the highest score, per spec §4.4.
		minPriority := admissible[0].ep.Priority
		for _, c := range admissible {
			if c.ep.Priority < minPriority {
				minPriority = c.ep.Priority
			}
		}
		var pool []candidate
		for _, c := range admissible {
			if c.ep.Priority == minPriority {
				pool = append(pool, c)
			}
		}
		sort.SliceStable(pool, func(i, j int) bool {
			si, sj := pool[i].health.Score(now), pool[j].health.Score(now)
			if si != sj {
				return si > sj
			}
			return tiebreak(pool[i].ep, pool[j].ep)
		})
		return &pool[0]
	}
}

func tiebreak(a, b *Endpoint) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.URL < b.URL
}

// roundRobinState threads the plain and smooth-weighted round-robin
// cursors; smooth weighted round robin follows the classic
// "current weight += effective weight, pick max, subtract total" scheme.
type roundRobinState struct {
	cursor  int
	current map[string]int
}

func newRoundRobinState() *roundRobinState {
	return &roundRobinState{current: make(map[string]int)}
}

func (r *roundRobinState) next(n int) int {
	idx := r.cursor % n
	r.cursor++
	return idx
}

func smoothWeightedPick(admissible []candidate, rr *roundRobinState) *candidate {
	total := 0
	best := -1
	bestWeight := -1 << 31
	for i, c := range admissible {
		w := c.ep.Weight
		if w <= 0 {
			w = 1
		}
		cur := rr.current[c.ep.URL] + w
		rr.current[c.ep.URL] = cur
		total += w
		if cur > bestWeight {
			bestWeight = cur
			best = i
		}
	}
	if best == -1 {
		return &admissible[0]
	}
	rr.current[admissible[best].ep.URL] -= total
	return &admissible[best]
}
