package memstore

import (
	"sync"
	"time"

	"github.com/veilswap/core/internal/store"
)

// RefundStore is an in-memory store.RefundStore.
type RefundStore struct {
	mu      sync.Mutex
	byID    map[string]*store.Refund
	byIdemp map[string]string
	history map[string][]*store.RefundHistory
}

func NewRefundStore() *RefundStore {
	return &RefundStore{
		byID:    make(map[string]*store.Refund),
		byIdemp: make(map[string]string),
		history: make(map[string][]*store.RefundHistory),
	}
}

func copyRefund(r *store.Refund) *store.Refund {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (m *RefundStore) Create(r *store.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byIdemp[r.IdempotencyKey]; exists {
		return nil // caller should use GetByIdempotencyKey first; Create is idempotent-safe
	}
	m.byID[r.ID] = copyRefund(r)
	m.byIdemp[r.IdempotencyKey] = r.ID
	return nil
}

func (m *RefundStore) Get(id string) (*store.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRefund(m.byID[id]), nil
}

func (m *RefundStore) GetByIdempotencyKey(key string) (*store.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIdemp[key]
	if !ok {
		return nil, nil
	}
	return copyRefund(m.byID[id]), nil
}

func (m *RefundStore) Update(r *store.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[r.ID] = copyRefund(r)
	return nil
}

func (m *RefundStore) AppendHistory(h *store.RefundHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.history[h.RefundID] = append(m.history[h.RefundID], &cp)
	return nil
}

func (m *RefundStore) ListPending(now time.Time) ([]*store.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Refund
	for _, r := range m.byID {
		if r.Status != store.RefundPending && r.Status != store.RefundProcessing {
			continue
		}
		if r.NextRetryAt.After(now) {
			continue
		}
		out = append(out, copyRefund(r))
	}
	return out, nil
}
