package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// VaultStore is an in-memory implementation of storage.VaultStore.
type VaultStore struct {
	mu   sync.RWMutex
	data map[solana.PublicKey]*domain.Vault // keyed by vault address
}

// NewVaultStore creates a new in-memory vault store.
func NewVaultStore() *VaultStore {
	return &VaultStore{
		data: make(map[solana.PublicKey]*domain.Vault),
	}
}

// Insert adds a new vault. Returns ErrDuplicateKey if the address exists.
func (s *VaultStore) Insert(_ context.Context, v *domain.Vault) error {
	if v == nil || v.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[v.Address]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	vaultCopy := *v
	s.data[v.Address] = &vaultCopy
	return nil
}

// GetByAddress retrieves a vault by address. Returns ErrNotFound if not exists.
func (s *VaultStore) GetByAddress(_ context.Context, address solana.PublicKey) (*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[address]
	if !exists {
		return nil, storage.ErrNotFound
	}

	vaultCopy := *v
	return &vaultCopy, nil
}

// Update persists target, referrer, price and readiness of an existing vault.
func (s *VaultStore) Update(_ context.Context, v *domain.Vault) error {
	if v == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.data[v.Address]
	if !exists {
		return storage.ErrNotFound
	}
	if existing.Owner != v.Owner || existing.TokenMint != v.TokenMint {
		return storage.ErrInvalidInput
	}

	existing.TargetPrice = v.TargetPrice
	existing.Referrer = v.Referrer
	existing.CurrentPrice = v.CurrentPrice
	existing.ReadyForExecution = v.ReadyForExecution
	return nil
}

// Delete removes a vault. Returns ErrNotFound if not exists.
func (s *VaultStore) Delete(_ context.Context, address solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[address]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, address)
	return nil
}

// GetByMint retrieves all vaults for a token mint, ordered by address.
func (s *VaultStore) GetByMint(_ context.Context, mint solana.PublicKey) ([]*domain.Vault, error) {
	return s.filter(func(v *domain.Vault) bool { return v.TokenMint == mint }), nil
}

// GetByReferrer retrieves all vaults naming the referrer, ordered by address.
func (s *VaultStore) GetByReferrer(_ context.Context, referrer solana.PublicKey) ([]*domain.Vault, error) {
	return s.filter(func(v *domain.Vault) bool { return v.Referrer == referrer }), nil
}

func (s *VaultStore) filter(match func(*domain.Vault) bool) []*domain.Vault {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Vault
	for _, v := range s.data {
		if match(v) {
			vaultCopy := *v
			result = append(result, &vaultCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address[:], result[j].Address[:]) < 0
	})

	return result
}

// Verify interface compliance at compile time.
var _ storage.VaultStore = (*VaultStore)(nil)
