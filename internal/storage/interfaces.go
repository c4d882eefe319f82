package storage

import (
	"context"

	"autotp/internal/domain"
	"autotp/internal/solana"
)

// VaultStore provides access to vault record storage.
type VaultStore interface {
	// Insert adds a new vault. Returns ErrDuplicateKey if the address exists.
	Insert(ctx context.Context, v *domain.Vault) error

	// GetByAddress retrieves a vault by its derived address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address solana.PublicKey) (*domain.Vault, error)

	// Update persists the mutable fields of an existing vault.
	// Returns ErrNotFound if not exists, ErrInvalidInput if owner or mint differ.
	Update(ctx context.Context, v *domain.Vault) error

	// Delete removes a vault. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, address solana.PublicKey) error

	// GetByMint retrieves all vaults for a token mint.
	GetByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error)

	// GetByReferrer retrieves all vaults naming the referrer.
	GetByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error)
}

// SettlementStore provides access to the append-only settlement journal.
type SettlementStore interface {
	// Insert adds a new settlement. Returns ErrDuplicateKey if settlement_id exists.
	Insert(ctx context.Context, s *domain.Settlement) error

	// GetByVault retrieves all settlements of a vault, ordered by settled_at ASC.
	GetByVault(ctx context.Context, vault solana.PublicKey) ([]*domain.Settlement, error)

	// GetByReferrer retrieves all settlements naming the referrer, ordered by settled_at ASC.
	GetByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Settlement, error)
}
