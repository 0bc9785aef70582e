package memstore

import (
	"sync"

	"github.com/veilswap/core/internal/store"
)

// CurrencyStore is an in-memory store.CurrencyStore, owned by the
// reference-data syncer and refreshed periodically from the upstream
// aggregator (spec §3).
type CurrencyStore struct {
	mu   sync.RWMutex
	byID map[string]*store.Currency
}

func NewCurrencyStore() *CurrencyStore {
	return &CurrencyStore{byID: make(map[string]*store.Currency)}
}

func (m *CurrencyStore) Upsert(c *store.Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byID[c.Key()] = &cp
	return nil
}

func (m *CurrencyStore) Get(ticker, network string) (*store.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[ticker+":"+network]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *CurrencyStore) List() ([]*store.Currency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.Currency, 0, len(m.byID))
	for _, c := range m.byID {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// ProviderStore is an in-memory store.ProviderStore.
type ProviderStore struct {
	mu   sync.RWMutex
	byID map[string]*store.Provider
}

func NewProviderStore() *ProviderStore {
	return &ProviderStore{byID: make(map[string]*store.Provider)}
}

func (m *ProviderStore) Upsert(p *store.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *ProviderStore) Get(id string) (*store.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *ProviderStore) List() ([]*store.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*store.Provider, 0, len(m.byID))
	for _, p := range m.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}
