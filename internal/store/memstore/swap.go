// Package memstore provides in-memory implementations of the store
// interfaces, grounded on chainadapter/storage/memory.go's shape: a
// mutex-guarded map returning defensive copies. Sufficient to drive
// every spec operation and test end to end; a real RDBMS adapter is left
// to the out-of-scope persistence layer (spec §3.1).
package memstore

import (
	"sort"
	"sync"

	"github.com/veilswap/core/internal/platform/corerr"
	"github.com/veilswap/core/internal/store"
)

// SwapStore is an in-memory store.SwapStore.
type SwapStore struct {
	mu      sync.RWMutex
	byID    map[string]*store.Swap
	history map[string][]*store.SwapStatusHistory
}

func NewSwapStore() *SwapStore {
	return &SwapStore{
		byID:    make(map[string]*store.Swap),
		history: make(map[string][]*store.SwapStatusHistory),
	}
}

func copySwap(s *store.Swap) *store.Swap {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func (m *SwapStore) Create(swap *store.Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[swap.ID]; exists {
		return corerr.New(corerr.Conflict, corerr.CodeAddressAllocationConflict, "swap already exists", nil)
	}
	m.byID[swap.ID] = copySwap(swap)
	return nil
}

func (m *SwapStore) Get(id string) (*store.Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return copySwap(s), nil
}

func (m *SwapStore) Update(swap *store.Swap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[swap.ID]; !ok {
		return corerr.New(corerr.Internal, "ERR_SWAP_NOT_FOUND", "update of unknown swap", nil)
	}
	m.byID[swap.ID] = copySwap(swap)
	return nil
}

// MaxAddressIndex returns the highest AddressIndex assigned for the given
// destination network, or -1 if none. Callers hold the per-network
// allocation lock (see internal/swap) around this call plus the
// subsequent Create.
func (m *SwapStore) MaxAddressIndex(network string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	max := int64(-1)
	for _, s := range m.byID {
		if s.ToNetwork != network {
			continue
		}
		if idx := int64(s.AddressIndex); idx > max {
			max = idx
		}
	}
	return max, nil
}

func (m *SwapStore) ListNonTerminal() ([]*store.Swap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*store.Swap
	for _, s := range m.byID {
		switch s.Status {
		case store.StatusCompleted, store.StatusExpired, store.StatusFailedManual, store.StatusRefunded:
			continue
		default:
			out = append(out, copySwap(s))
		}
	}
	return out, nil
}

func (m *SwapStore) AppendHistory(entry *store.SwapStatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.history[entry.SwapID] = append(m.history[entry.SwapID], &cp)
	return nil
}

func (m *SwapStore) History(swapID string) ([]*store.SwapStatusHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[swapID]
	out := make([]*store.SwapStatusHistory, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// ListHistory implements keyset pagination on (CreatedAt DESC, ID DESC),
// rejecting a cursor whose filter snapshot disagrees with the filters
// passed for this call (spec §4.1, §9). A row beyond limit is fetched to
// compute HasMore in O(1) rather than a second count query.
func (m *SwapStore) ListHistory(userID string, cursor *store.Cursor, filters store.HistoryFilters, limit int) (*store.Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	m.mu.RLock()
	all := make([]*store.Swap, 0, len(m.byID))
	for _, s := range m.byID {
		if userID != "" && s.UserID != userID {
			continue
		}
		if !matchesFilters(s, filters) {
			continue
		}
		all = append(all, copySwap(s))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if cursor != nil {
		if cursor.Filters != filters {
			return nil, corerr.New(corerr.Validation, corerr.CodeInvalidCursor, "cursor filter snapshot mismatch", nil)
		}
		idx := 0
		for idx < len(all) {
			s := all[idx]
			if s.CreatedAt.Before(cursor.CreatedAt) || (s.CreatedAt.Equal(cursor.CreatedAt) && s.ID < cursor.ID) {
				break
			}
			idx++
		}
		all = all[idx:]
	}

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}

	return &store.Page{Swaps: all, HasMore: hasMore}, nil
}

func matchesFilters(s *store.Swap, f store.HistoryFilters) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.FromCurrency != "" && s.FromCurrency != f.FromCurrency {
		return false
	}
	if f.ToCurrency != "" && s.ToCurrency != f.ToCurrency {
		return false
	}
	if f.ProviderID != "" && s.ProviderID != f.ProviderID {
		return false
	}
	return true
}
