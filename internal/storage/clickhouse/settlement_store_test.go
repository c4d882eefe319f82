package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0], pk[31] = b, b
	return pk
}

func newSettlement(id string, vault, referrer byte, settledAt int64) *domain.Settlement {
	return &domain.Settlement{
		SettlementID:  id,
		Vault:         key(vault),
		Owner:         key(vault + 100),
		TokenMint:     key(50),
		Referrer:      key(referrer),
		Kind:          domain.SettlementExecute,
		Price:         150,
		Total:         10_000,
		ProtocolFee:   100,
		ReferrerFee:   10,
		ProtocolShare: 90,
		UserAmount:    9_900,
		ReferrerPaid:  true,
		ExecutedBy:    key(vault + 100),
		SettledAt:     settledAt,
	}
}

func TestSettlementStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSettlementStore(conn)

	require.NoError(t, store.Insert(ctx, newSettlement("s2", 1, 9, 2_000)))
	require.NoError(t, store.Insert(ctx, newSettlement("s1", 1, 9, 1_000)))
	require.NoError(t, store.Insert(ctx, newSettlement("s3", 2, 8, 1_500)))

	byVault, err := store.GetByVault(ctx, key(1))
	require.NoError(t, err)
	require.Len(t, byVault, 2)
	assert.Equal(t, "s1", byVault[0].SettlementID)
	assert.Equal(t, "s2", byVault[1].SettlementID)
	assert.Equal(t, *newSettlement("s1", 1, 9, 1_000), *byVault[0])

	byReferrer, err := store.GetByReferrer(ctx, key(8))
	require.NoError(t, err)
	require.Len(t, byReferrer, 1)
	assert.Equal(t, "s3", byReferrer[0].SettlementID)

	none, err := store.GetByVault(ctx, key(77))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSettlementStore_Errors(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSettlementStore(conn)

	require.NoError(t, store.Insert(ctx, newSettlement("dup", 1, 9, 1_000)))
	assert.ErrorIs(t, store.Insert(ctx, newSettlement("dup", 1, 9, 1_000)), storage.ErrDuplicateKey)

	bad := newSettlement("bad", 1, 9, 1_000)
	bad.Kind = "REFUND"
	assert.ErrorIs(t, store.Insert(ctx, bad), storage.ErrInvalidInput)
	assert.ErrorIs(t, store.Insert(ctx, nil), storage.ErrInvalidInput)
}
