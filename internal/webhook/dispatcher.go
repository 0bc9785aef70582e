package webhook

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veilswap/core/internal/store"
)

// maxAttempts is the webhook pipeline's hard retry cap before a delivery
// is flagged DLQ (spec §4.6).
const maxAttempts = 10

// retryCapSeconds is the ceiling on the exponential retry schedule.
const retryCapSeconds = 86400

// RetryDelay implements min(30*2^attempt, 86400) seconds (spec §4.6).
// It returns the base delay without jitter; recordFailure applies ±10%
// jitter on top when it schedules the next attempt.
func RetryDelay(attempt int) time.Duration {
	seconds := 30 * math.Pow(2, float64(attempt))
	if seconds > retryCapSeconds {
		seconds = retryCapSeconds
	}
	return time.Duration(seconds) * time.Second
}

// Dispatcher is the webhook delivery pipeline of spec §4.6.
type Dispatcher struct {
	webhooks   store.WebhookStore
	deliveries store.WebhookDeliveryStore
	circuits   store.CircuitBreakerStateStore
	limiters   store.RateLimiterStateStore
	httpClient *http.Client
	logger     *zap.Logger
}

func NewDispatcher(webhooks store.WebhookStore, deliveries store.WebhookDeliveryStore, circuits store.CircuitBreakerStateStore, limiters store.RateLimiterStateStore, httpClient *http.Client, logger *zap.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{webhooks: webhooks, deliveries: deliveries, circuits: circuits, limiters: limiters, httpClient: httpClient, logger: logger}
}

// Emit implements swap.Emitter and payout.Emitter: fan out eventType for
// swapID/data to every webhook subscribed to it, creating one
// WebhookDelivery row per subscriber.
func (d *Dispatcher) Emit(ctx context.Context, eventType, swapID string, data interface{}) error {
	hooks, err := d.webhooks.ListSubscribed(eventType)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, w := range hooks {
		if !w.Enabled {
			continue
		}
		body, err := BuildEnvelope(eventType, swapID, data, now)
		if err != nil {
			return err
		}
		key := IdempotencyKey(w.ID, eventType, swapID, now)
		if existing, _ := d.deliveries.GetByIdempotencyKey(key); existing != nil {
			continue
		}
		delivery := &store.WebhookDelivery{
			ID:             uuid.NewString(),
			WebhookID:      w.ID,
			SwapID:         swapID,
			EventType:      eventType,
			IdempotencyKey: key,
			Payload:        body,
			Signature:      Sign(w.SecretKey, now.Unix(), body),
			MaxAttempts:    maxAttempts,
			NextRetryAt:    now,
		}
		if err := d.deliveries.Create(delivery); err != nil {
			return err
		}
	}
	return nil
}

// ProcessDue drives the scheduler+processor stage: every delivery whose
// NextRetryAt has elapsed is attempted, gated by its webhook's rate
// limiter and circuit breaker.
func (d *Dispatcher) ProcessDue(ctx context.Context) {
	now := time.Now()
	due, err := d.deliveries.ListDue(now)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("webhook dispatcher: listing due deliveries failed", zap.Error(err))
		}
		return
	}

	for _, delivery := range due {
		w, err := d.webhooks.Get(delivery.WebhookID)
		if err != nil || w == nil {
			continue
		}

		circuit, _ := d.circuits.Get(w.ID)
		if circuit == nil {
			circuit = NewCircuitState(w.ID)
		}
		if !Admit(circuit, now) {
			continue
		}

		limiterState, _ := d.limiters.Get(w.ID)
		limiterState, allowed := Allow(limiterState, w.RateLimitPerSecond, now)
		_ = d.limiters.Upsert(limiterState)
		if !allowed {
			continue
		}

		success := d.attempt(ctx, w, delivery)
		RecordOutcome(circuit, success, now)
		_ = d.circuits.Upsert(circuit)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, w *store.Webhook, delivery *store.WebhookDelivery) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		d.recordFailure(delivery, err.Error())
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Veilswap-Signature", delivery.Signature)

	delivery.AttemptNumber++
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.recordFailure(delivery, err.Error())
		return false
	}
	defer resp.Body.Close()

	delivery.ResponseStatus = resp.StatusCode
	delivery.ResponseTimeMS = time.Since(start).Milliseconds()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		now := time.Now()
		delivery.DeliveredAt = &now
		_ = d.deliveries.Update(delivery)
		return true
	}
	d.recordFailure(delivery, fmt.Sprintf("HTTP %d", resp.StatusCode))
	return false
}

func (d *Dispatcher) recordFailure(delivery *store.WebhookDelivery, message string) {
	delivery.ErrorMessage = message
	if delivery.AttemptNumber >= delivery.MaxAttempts {
		delivery.IsDLQ = true
		if d.logger != nil {
			d.logger.Error("webhook delivery exhausted retries, moved to DLQ", zap.String("delivery_id", delivery.ID), zap.String("error", message))
		}
	} else {
		jitter := 1 + (rand.Float64()*0.2 - 0.1)
		delivery.NextRetryAt = time.Now().Add(time.Duration(float64(RetryDelay(delivery.AttemptNumber)) * jitter))
	}
	_ = d.deliveries.Update(delivery)
}

// Replay manually resets a DLQ delivery to attempt 0, for the replay API
// of spec §4.6.
func (d *Dispatcher) Replay(ctx context.Context, deliveryID string) error {
	delivery, err := d.deliveries.Get(deliveryID)
	if err != nil {
		return err
	}
	if delivery == nil {
		return fmt.Errorf("delivery %s not found", deliveryID)
	}
	delivery.IsDLQ = false
	delivery.AttemptNumber = 0
	delivery.ErrorMessage = ""
	delivery.NextRetryAt = time.Now()
	return d.deliveries.Update(delivery)
}
