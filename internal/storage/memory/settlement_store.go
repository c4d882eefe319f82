package memory

import (
	"context"
	"sort"
	"sync"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// SettlementStore is an in-memory implementation of storage.SettlementStore.
type SettlementStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Settlement // keyed by settlement_id
}

// NewSettlementStore creates a new in-memory settlement store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		data: make(map[string]*domain.Settlement),
	}
}

// Insert adds a new settlement. Returns ErrDuplicateKey if settlement_id exists.
func (s *SettlementStore) Insert(_ context.Context, st *domain.Settlement) error {
	if st == nil || st.SettlementID == "" || !st.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[st.SettlementID]; exists {
		return storage.ErrDuplicateKey
	}

	settlementCopy := *st
	s.data[st.SettlementID] = &settlementCopy
	return nil
}

// GetByVault retrieves all settlements of a vault, ordered by settled_at ASC.
func (s *SettlementStore) GetByVault(_ context.Context, vault solana.PublicKey) ([]*domain.Settlement, error) {
	return s.filter(func(st *domain.Settlement) bool { return st.Vault == vault }), nil
}

// GetByReferrer retrieves all settlements naming the referrer, ordered by settled_at ASC.
func (s *SettlementStore) GetByReferrer(_ context.Context, referrer solana.PublicKey) ([]*domain.Settlement, error) {
	return s.filter(func(st *domain.Settlement) bool { return st.Referrer == referrer }), nil
}

func (s *SettlementStore) filter(match func(*domain.Settlement) bool) []*domain.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Settlement
	for _, st := range s.data {
		if match(st) {
			settlementCopy := *st
			result = append(result, &settlementCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SettledAt != result[j].SettledAt {
			return result[i].SettledAt < result[j].SettledAt
		}
		return result[i].SettlementID < result[j].SettlementID
	})

	return result
}

// Verify interface compliance at compile time.
var _ storage.SettlementStore = (*SettlementStore)(nil)
