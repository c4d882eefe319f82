package clickhouse

import (
	"context"
	"fmt"
	"time"

	"autotp/internal/domain"
	"autotp/internal/observability"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// SettlementStore implements storage.SettlementStore using ClickHouse.
type SettlementStore struct {
	conn *Conn
}

// NewSettlementStore creates a new SettlementStore.
func NewSettlementStore(conn *Conn) *SettlementStore {
	return &SettlementStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SettlementStore = (*SettlementStore)(nil)

const settlementColumns = `
	settlement_id, vault, owner, token_mint, referrer, kind, price, total,
	protocol_fee, referrer_fee, protocol_share, user_amount, referrer_paid,
	executed_by, settled_at_ms`

// Insert appends a settlement. MergeTree does not enforce keys, so
// duplicates are detected with an explicit lookup first.
func (s *SettlementStore) Insert(ctx context.Context, st *domain.Settlement) (err error) {
	if st == nil || st.SettlementID == "" || !st.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "settlement_insert", time.Since(start).Seconds(), err)
	}()

	exists, err := s.exists(ctx, st.SettlementID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO vault_settlements (`+settlementColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		st.SettlementID,
		st.Vault.String(),
		st.Owner.String(),
		st.TokenMint.String(),
		st.Referrer.String(),
		string(st.Kind),
		st.Price,
		st.Total,
		st.ProtocolFee,
		st.ReferrerFee,
		st.ProtocolShare,
		st.UserAmount,
		st.ReferrerPaid,
		st.ExecutedBy.String(),
		st.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByVault retrieves all settlements of a vault, ordered by settled_at ASC.
func (s *SettlementStore) GetByVault(ctx context.Context, vault solana.PublicKey) ([]*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
		FROM vault_settlements
		WHERE vault = ?
		ORDER BY settled_at_ms ASC, settlement_id ASC`

	rows, err := s.conn.Query(ctx, query, vault.String())
	if err != nil {
		return nil, fmt.Errorf("query by vault: %w", err)
	}
	defer rows.Close()

	return scanSettlements(rows)
}

// GetByReferrer retrieves all settlements naming referrer, ordered by settled_at ASC.
func (s *SettlementStore) GetByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
		FROM vault_settlements
		WHERE referrer = ?
		ORDER BY settled_at_ms ASC, settlement_id ASC`

	rows, err := s.conn.Query(ctx, query, referrer.String())
	if err != nil {
		return nil, fmt.Errorf("query by referrer: %w", err)
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *SettlementStore) exists(ctx context.Context, settlementID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM vault_settlements WHERE settlement_id = ?`, settlementID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanSettlements(rows chRows) ([]*domain.Settlement, error) {
	var result []*domain.Settlement

	for rows.Next() {
		var st domain.Settlement
		var vault, owner, mint, referrer, kind, executedBy string
		err := rows.Scan(
			&st.SettlementID, &vault, &owner, &mint, &referrer, &kind,
			&st.Price, &st.Total, &st.ProtocolFee, &st.ReferrerFee,
			&st.ProtocolShare, &st.UserAmount, &st.ReferrerPaid,
			&executedBy, &st.SettledAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan settlement row: %w", err)
		}

		st.Kind = domain.SettlementKind(kind)
		keys := []struct {
			dst *solana.PublicKey
			src string
		}{
			{&st.Vault, vault},
			{&st.Owner, owner},
			{&st.TokenMint, mint},
			{&st.Referrer, referrer},
			{&st.ExecutedBy, executedBy},
		}
		for _, k := range keys {
			if *k.dst, err = solana.ParsePublicKey(k.src); err != nil {
				return nil, fmt.Errorf("settlement %s: %w", st.SettlementID, err)
			}
		}
		result = append(result, &st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement rows: %w", err)
	}
	return result, nil
}
