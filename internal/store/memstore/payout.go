package memstore

import (
	"sync"
	"time"

	"github.com/veilswap/core/internal/store"
)

// SwapAddressInfoStore is an in-memory store.SwapAddressInfoStore.
type SwapAddressInfoStore struct {
	mu       sync.Mutex
	byID     map[string]*store.SwapAddressInfo
	byIdemp  map[string]string // idempotency key -> swap id
}

func NewSwapAddressInfoStore() *SwapAddressInfoStore {
	return &SwapAddressInfoStore{
		byID:    make(map[string]*store.SwapAddressInfo),
		byIdemp: make(map[string]string),
	}
}

func copyInfo(i *store.SwapAddressInfo) *store.SwapAddressInfo {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

func (m *SwapAddressInfoStore) Get(swapID string) (*store.SwapAddressInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyInfo(m.byID[swapID]), nil
}

func (m *SwapAddressInfoStore) Create(info *store.SwapAddressInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[info.SwapID] = copyInfo(info)
	return nil
}

func (m *SwapAddressInfoStore) Update(info *store.SwapAddressInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[info.SwapID] = copyInfo(info)
	if info.PayoutIdempotencyKey != "" {
		m.byIdemp[info.PayoutIdempotencyKey] = info.SwapID
	}
	return nil
}

func (m *SwapAddressInfoStore) GetByIdempotencyKey(key string) (*store.SwapAddressInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	swapID, ok := m.byIdemp[key]
	if !ok {
		return nil, nil
	}
	return copyInfo(m.byID[swapID]), nil
}

// TryAcquireIdempotencyKey is the single serialization point for payout:
// only the caller that transitions PayoutIdempotencyKey from empty to key
// proceeds; a concurrent second call observes the row already claimed.
func (m *SwapAddressInfoStore) TryAcquireIdempotencyKey(swapID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.byID[swapID]
	if !ok {
		return false, nil
	}
	if info.PayoutIdempotencyKey != "" {
		return info.PayoutIdempotencyKey == key, nil
	}
	info.PayoutIdempotencyKey = key
	m.byIdemp[key] = swapID
	return true, nil
}

// PollingStateStore is an in-memory store.PollingStateStore.
type PollingStateStore struct {
	mu   sync.Mutex
	byID map[string]*store.PollingState
}

func NewPollingStateStore() *PollingStateStore {
	return &PollingStateStore{byID: make(map[string]*store.PollingState)}
}

func (m *PollingStateStore) Get(swapID string) (*store.PollingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[swapID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *PollingStateStore) Upsert(state *store.PollingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.byID[state.SwapID] = &cp
	return nil
}

func (m *PollingStateStore) DueForPoll(now time.Time) ([]*store.PollingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.PollingState
	for _, s := range m.byID {
		if !s.NextPollAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
