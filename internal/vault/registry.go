package vault

import (
	"context"
	"errors"
	"fmt"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// Registry owns vault records, one per owner, keyed by derived address.
type Registry struct {
	programID solana.PublicKey
	store     storage.VaultStore
}

// NewRegistry creates a registry for vaults of programID.
func NewRegistry(programID solana.PublicKey, store storage.VaultStore) *Registry {
	return &Registry{programID: programID, store: store}
}

// ProgramID returns the program that derives vault addresses.
func (r *Registry) ProgramID() solana.PublicKey {
	return r.programID
}

// Address returns the vault address and bump for owner.
func (r *Registry) Address(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return DeriveVaultAddress(r.programID, owner)
}

// Create stores a new record with current_price 0 and ready_for_execution false.
// Returns ErrAlreadyExists if the owner already has a vault.
func (r *Registry) Create(ctx context.Context, owner, mint solana.PublicKey, targetPrice uint64, referrer solana.PublicKey) (*domain.Vault, error) {
	addr, bump, err := r.Address(owner)
	if err != nil {
		return nil, err
	}

	v := &domain.Vault{
		Address:     addr,
		Bump:        bump,
		Owner:       owner,
		TokenMint:   mint,
		TargetPrice: targetPrice,
		Referrer:    referrer,
	}

	if err := r.store.Insert(ctx, v); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("create vault %s: %w", addr, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create vault %s: %w", addr, err)
	}
	return v, nil
}

// Remove deletes the record at addr. Returns ErrNotFound if absent.
func (r *Registry) Remove(ctx context.Context, addr solana.PublicKey) error {
	if err := r.store.Delete(ctx, addr); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("remove vault %s: %w", addr, ErrNotFound)
		}
		return fmt.Errorf("remove vault %s: %w", addr, err)
	}
	return nil
}

// Load returns the vault of owner. Returns ErrNotFound if absent.
func (r *Registry) Load(ctx context.Context, owner solana.PublicKey) (*domain.Vault, error) {
	addr, _, err := r.Address(owner)
	if err != nil {
		return nil, err
	}

	v, err := r.store.GetByAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load vault of %s: %w", owner, ErrNotFound)
		}
		return nil, fmt.Errorf("load vault of %s: %w", owner, err)
	}
	return v, nil
}

// Save persists the mutable fields of v.
func (r *Registry) Save(ctx context.Context, v *domain.Vault) error {
	if err := r.store.Update(ctx, v); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return fmt.Errorf("save vault %s: %w", v.Address, ErrNotFound)
		case errors.Is(err, storage.ErrInvalidInput):
			return fmt.Errorf("save vault %s: owner and mint are immutable: %w", v.Address, ErrInvalidInput)
		default:
			return fmt.Errorf("save vault %s: %w", v.Address, err)
		}
	}
	return nil
}

// ListByMint returns every vault holding mint.
func (r *Registry) ListByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error) {
	vaults, err := r.store.GetByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list vaults by mint %s: %w", mint, err)
	}
	return vaults, nil
}

// ListByReferrer returns every vault naming referrer.
func (r *Registry) ListByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error) {
	vaults, err := r.store.GetByReferrer(ctx, referrer)
	if err != nil {
		return nil, fmt.Errorf("list vaults by referrer %s: %w", referrer, err)
	}
	return vaults, nil
}
