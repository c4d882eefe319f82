package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"autotp/internal/domain"
	"autotp/internal/observability"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// VaultStore implements storage.VaultStore using PostgreSQL.
type VaultStore struct {
	pool *Pool
}

// NewVaultStore creates a new VaultStore.
func NewVaultStore(pool *Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VaultStore = (*VaultStore)(nil)

const vaultColumns = `address, bump, owner, token_mint, target_price, referrer, current_price, ready_for_execution`

// Insert adds a new vault. Returns ErrDuplicateKey if the address or owner exists.
func (s *VaultStore) Insert(ctx context.Context, v *domain.Vault) (err error) {
	if v == nil || v.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	defer observeQuery("vault_insert", time.Now(), &err)

	query := `
		INSERT INTO vaults (` + vaultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		v.Address.String(),
		int16(v.Bump),
		v.Owner.String(),
		v.TokenMint.String(),
		numeric(v.TargetPrice),
		v.Referrer.String(),
		numeric(v.CurrentPrice),
		v.ReadyForExecution,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

// GetByAddress retrieves a vault by address. Returns ErrNotFound if not exists.
func (s *VaultStore) GetByAddress(ctx context.Context, address solana.PublicKey) (v *domain.Vault, err error) {
	defer observeQuery("vault_get", time.Now(), &err)

	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE address = $1`

	v, err = scanVault(s.pool.QueryRow(ctx, query, address.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault by address: %w", err)
	}
	return v, nil
}

// Update persists the mutable fields. Owner and mint must match the stored row.
func (s *VaultStore) Update(ctx context.Context, v *domain.Vault) (err error) {
	if v == nil {
		return storage.ErrInvalidInput
	}
	defer observeQuery("vault_update", time.Now(), &err)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner, mint string
	err = tx.QueryRow(ctx,
		`SELECT owner, token_mint FROM vaults WHERE address = $1 FOR UPDATE`,
		v.Address.String(),
	).Scan(&owner, &mint)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock vault: %w", err)
	}
	if owner != v.Owner.String() || mint != v.TokenMint.String() {
		return storage.ErrInvalidInput
	}

	_, err = tx.Exec(ctx, `
		UPDATE vaults
		SET target_price = $2, referrer = $3, current_price = $4,
		    ready_for_execution = $5, updated_at = now()
		WHERE address = $1
	`,
		v.Address.String(),
		numeric(v.TargetPrice),
		v.Referrer.String(),
		numeric(v.CurrentPrice),
		v.ReadyForExecution,
	)
	if err != nil {
		return fmt.Errorf("update vault: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Delete removes a vault. Returns ErrNotFound if not exists.
func (s *VaultStore) Delete(ctx context.Context, address solana.PublicKey) (err error) {
	defer observeQuery("vault_delete", time.Now(), &err)

	tag, err := s.pool.Exec(ctx, `DELETE FROM vaults WHERE address = $1`, address.String())
	if err != nil {
		return fmt.Errorf("delete vault: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByMint retrieves all vaults for a token mint, ordered by address.
func (s *VaultStore) GetByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error) {
	return s.list(ctx, "vault_by_mint", `SELECT `+vaultColumns+` FROM vaults WHERE token_mint = $1 ORDER BY address`, mint)
}

// GetByReferrer retrieves all vaults naming referrer, ordered by address.
func (s *VaultStore) GetByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error) {
	return s.list(ctx, "vault_by_referrer", `SELECT `+vaultColumns+` FROM vaults WHERE referrer = $1 ORDER BY address`, referrer)
}

func (s *VaultStore) list(ctx context.Context, operation, query string, arg solana.PublicKey) (vaults []*domain.Vault, err error) {
	defer observeQuery(operation, time.Now(), &err)

	rows, err := s.pool.Query(ctx, query, arg.String())
	if err != nil {
		return nil, fmt.Errorf("query vaults: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		vaults = append(vaults, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vaults: %w", err)
	}
	return vaults, nil
}

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var (
		address, owner, mint, referrer string
		bump                           int16
		target, current                pgtype.Numeric
		ready                          bool
	)
	if err := row.Scan(&address, &bump, &owner, &mint, &target, &referrer, &current, &ready); err != nil {
		return nil, err
	}

	v := &domain.Vault{Bump: uint8(bump), ReadyForExecution: ready}
	var err error
	if v.TargetPrice, err = fromNumeric(target); err != nil {
		return nil, fmt.Errorf("target_price: %w", err)
	}
	if v.CurrentPrice, err = fromNumeric(current); err != nil {
		return nil, fmt.Errorf("current_price: %w", err)
	}
	if err := parseKeys(
		keyField{&v.Address, address},
		keyField{&v.Owner, owner},
		keyField{&v.TokenMint, mint},
		keyField{&v.Referrer, referrer},
	); err != nil {
		return nil, err
	}
	return v, nil
}

type keyField struct {
	dst *solana.PublicKey
	src string
}

func parseKeys(fields ...keyField) error {
	for _, f := range fields {
		pk, err := solana.ParsePublicKey(f.src)
		if err != nil {
			return err
		}
		*f.dst = pk
	}
	return nil
}

func observeQuery(operation string, start time.Time, err *error) {
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), *err)
}
