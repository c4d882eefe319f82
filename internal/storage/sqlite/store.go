// Package sqlite provides a single-node vault store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
	"autotp/internal/storage/migrations"
	"autotp/internal/vault"
)

// VaultStore persists vault records in SQLite. The record body is stored in
// its encoded on-chain form; lookup columns are derived from it.
type VaultStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ storage.VaultStore = (*VaultStore)(nil)

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*VaultStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &VaultStore{db: db}, nil
}

// Close closes the database handle.
func (s *VaultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert adds a new vault. Returns ErrDuplicateKey if the address or owner exists.
func (s *VaultStore) Insert(ctx context.Context, v *domain.Vault) error {
	if v == nil || v.Address.IsZero() {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vaults (address, bump, owner, token_mint, referrer, record, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.Address.String(),
		int(v.Bump),
		v.Owner.String(),
		v.TokenMint.String(),
		v.Referrer.String(),
		vault.EncodeRecord(v),
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

// GetByAddress retrieves a vault by address. Returns ErrNotFound if not exists.
func (s *VaultStore) GetByAddress(ctx context.Context, address solana.PublicKey) (*domain.Vault, error) {
	row := s.db.QueryRowContext(ctx, `SELECT address, bump, record FROM vaults WHERE address = ?`, address.String())
	v, err := scanVault(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault by address: %w", err)
	}
	return v, nil
}

// Update rewrites the record of an existing vault. Owner and mint must match.
func (s *VaultStore) Update(ctx context.Context, v *domain.Vault) error {
	if v == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var owner, mint string
	err = tx.QueryRowContext(ctx, `SELECT owner, token_mint FROM vaults WHERE address = ?`, v.Address.String()).Scan(&owner, &mint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("read vault: %w", err)
	}
	if owner != v.Owner.String() || mint != v.TokenMint.String() {
		return storage.ErrInvalidInput
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE vaults SET referrer = ?, record = ?, updated_at = ? WHERE address = ?`,
		v.Referrer.String(),
		vault.EncodeRecord(v),
		time.Now().UTC().UnixMilli(),
		v.Address.String(),
	); err != nil {
		return fmt.Errorf("update vault: %w", err)
	}
	return tx.Commit()
}

// Delete removes a vault. Returns ErrNotFound if not exists.
func (s *VaultStore) Delete(ctx context.Context, address solana.PublicKey) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vaults WHERE address = ?`, address.String())
	if err != nil {
		return fmt.Errorf("delete vault: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete vault: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByMint retrieves all vaults for a token mint, ordered by address.
func (s *VaultStore) GetByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error) {
	return s.list(ctx, `SELECT address, bump, record FROM vaults WHERE token_mint = ? ORDER BY address`, mint)
}

// GetByReferrer retrieves all vaults naming referrer, ordered by address.
func (s *VaultStore) GetByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error) {
	return s.list(ctx, `SELECT address, bump, record FROM vaults WHERE referrer = ? ORDER BY address`, referrer)
}

func (s *VaultStore) list(ctx context.Context, query string, arg solana.PublicKey) ([]*domain.Vault, error) {
	rows, err := s.db.QueryContext(ctx, query, arg.String())
	if err != nil {
		return nil, fmt.Errorf("query vaults: %w", err)
	}
	defer rows.Close()

	var vaults []*domain.Vault
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVault(row rowScanner) (*domain.Vault, error) {
	var (
		address string
		bump    int
		record  []byte
	)
	if err := row.Scan(&address, &bump, &record); err != nil {
		return nil, err
	}

	v, err := vault.DecodeRecord(record)
	if err != nil {
		return nil, err
	}
	if v.Address, err = solana.ParsePublicKey(address); err != nil {
		return nil, err
	}
	v.Bump = uint8(bump)
	return v, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
