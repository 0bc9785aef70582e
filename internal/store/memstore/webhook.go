package memstore

import (
	"sync"
	"time"

	"github.com/veilswap/core/internal/store"
)

// WebhookStore is an in-memory store.WebhookStore.
type WebhookStore struct {
	mu   sync.RWMutex
	byID map[string]*store.Webhook
}

func NewWebhookStore() *WebhookStore {
	return &WebhookStore{byID: make(map[string]*store.Webhook)}
}

func copyWebhook(w *store.Webhook) *store.Webhook {
	if w == nil {
		return nil
	}
	cp := *w
	cp.SubscribedEvents = append([]string(nil), w.SubscribedEvents...)
	return &cp
}

func (m *WebhookStore) Create(w *store.Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[w.ID] = copyWebhook(w)
	return nil
}

func (m *WebhookStore) Get(id string) (*store.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyWebhook(m.byID[id]), nil
}

func (m *WebhookStore) ListBySwap(swapID string) ([]*store.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Webhook
	for _, w := range m.byID {
		if w.SwapID == swapID {
			out = append(out, copyWebhook(w))
		}
	}
	return out, nil
}

func (m *WebhookStore) ListSubscribed(eventType string) ([]*store.Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Webhook
	for _, w := range m.byID {
		if !w.Enabled {
			continue
		}
		for _, e := range w.SubscribedEvents {
			if e == eventType {
				out = append(out, copyWebhook(w))
				break
			}
		}
	}
	return out, nil
}

// WebhookDeliveryStore is an in-memory store.WebhookDeliveryStore.
type WebhookDeliveryStore struct {
	mu      sync.Mutex
	byID    map[string]*store.WebhookDelivery
	byIdemp map[string]string
}

func NewWebhookDeliveryStore() *WebhookDeliveryStore {
	return &WebhookDeliveryStore{
		byID:    make(map[string]*store.WebhookDelivery),
		byIdemp: make(map[string]string),
	}
}

func copyDelivery(d *store.WebhookDelivery) *store.WebhookDelivery {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp
}

func (m *WebhookDeliveryStore) Create(d *store.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdemp[d.IdempotencyKey]; exists {
		return nil
	}
	m.byID[d.ID] = copyDelivery(d)
	m.byIdemp[d.IdempotencyKey] = d.ID
	return nil
}

func (m *WebhookDeliveryStore) Get(id string) (*store.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyDelivery(m.byID[id]), nil
}

func (m *WebhookDeliveryStore) GetByIdempotencyKey(key string) (*store.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdemp[key]
	if !ok {
		return nil, nil
	}
	return copyDelivery(m.byID[id]), nil
}

func (m *WebhookDeliveryStore) Update(d *store.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[d.ID] = copyDelivery(d)
	return nil
}

func (m *WebhookDeliveryStore) ListDue(now time.Time) ([]*store.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.WebhookDelivery
	for _, d := range m.byID {
		if d.IsDLQ || d.DeliveredAt != nil {
			continue
		}
		if d.NextRetryAt.After(now) {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	return out, nil
}

func (m *WebhookDeliveryStore) ListDLQ(webhookID string) ([]*store.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.WebhookDelivery
	for _, d := range m.byID {
		if d.IsDLQ && (webhookID == "" || d.WebhookID == webhookID) {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

// CircuitBreakerStateStore is an in-memory store.CircuitBreakerStateStore.
type CircuitBreakerStateStore struct {
	mu   sync.Mutex
	byID map[string]*store.WebhookCircuitBreakerState
}

func NewCircuitBreakerStateStore() *CircuitBreakerStateStore {
	return &CircuitBreakerStateStore{byID: make(map[string]*store.WebhookCircuitBreakerState)}
}

func (m *CircuitBreakerStateStore) Get(webhookID string) (*store.WebhookCircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[webhookID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *CircuitBreakerStateStore) Upsert(state *store.WebhookCircuitBreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.byID[state.WebhookID] = &cp
	return nil
}

// RateLimiterStateStore is an in-memory store.RateLimiterStateStore.
type RateLimiterStateStore struct {
	mu   sync.Mutex
	byID map[string]*store.WebhookRateLimiterState
}

func NewRateLimiterStateStore() *RateLimiterStateStore {
	return &RateLimiterStateStore{byID: make(map[string]*store.WebhookRateLimiterState)}
}

func (m *RateLimiterStateStore) Get(webhookID string) (*store.WebhookRateLimiterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[webhookID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *RateLimiterStateStore) Upsert(state *store.WebhookRateLimiterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.byID[state.WebhookID] = &cp
	return nil
}
