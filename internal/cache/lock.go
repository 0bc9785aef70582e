package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// lockTTL is the distributed lock's TTL (spec §4.7: "~15s").
const lockTTL = 15 * time.Second

// pollInterval and pollBudget bound how long a non-leader waits for the
// leader's refresh before giving up and computing its own value (spec
// §4.7: "poll the cache at ~200ms intervals for up to 5s").
const (
	pollInterval = 200 * time.Millisecond
	pollBudget   = 5 * time.Second
)

// Recompute coordinates concurrent cache refreshes for key: in-process
// callers are coalesced by a singleflight.Group (so only one goroutine
// per replica calls compute), and — when a Redis client is configured —
// cross-replica callers are coordinated by a SETNX-style distributed
// lock so only one replica becomes the leader. Non-leaders poll the
// cache for the leader's result before falling through to their own
// compute call, exactly as spec §4.7 describes.
type Recompute struct {
	group *singleflight.Group
	tier  *Tiered
	redis *redis.Client
}

func NewRecompute(tier *Tiered, redisClient *redis.Client) *Recompute {
	return &Recompute{group: &singleflight.Group{}, tier: tier, redis: redisClient}
}

// Do returns the cached value for key if present and not electing early
// recomputation; otherwise it coordinates a single refresh via compute
// and writes the result back into the tiered cache with ttl.
func (r *Recompute) Do(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if e, ok := r.tier.Get(ctx, key); ok {
		if !ShouldRecompute(time.Now(), e.ExpiresAt) {
			return e.Value, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.doLocked(ctx, key, ttl, compute)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *Recompute) doLocked(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if r.redis == nil {
		return r.computeAndStore(ctx, key, ttl, compute)
	}

	lockKey := key + ":lock"
	acquired, err := r.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err == nil && acquired {
		defer r.redis.Del(ctx, lockKey)
		return r.computeAndStore(ctx, key, ttl, compute)
	}

	// Not the leader: poll the cache for the leader's refresh.
	deadline := time.Now().Add(pollBudget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if e, ok := r.tier.Get(ctx, key); ok && !ShouldRecompute(time.Now(), e.ExpiresAt) {
				return e.Value, nil
			}
		}
	}

	// Leader never refreshed in time; fall through to our own compute.
	return r.computeAndStore(ctx, key, ttl, compute)
}

func (r *Recompute) computeAndStore(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	_ = r.tier.Set(ctx, key, v, ttl)
	return v, nil
}
