package referral

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
	"autotp/internal/storage/memory"
	"autotp/internal/vault"
)

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0], pk[31] = b, b
	return pk
}

var testProgramID = solana.MustParsePublicKey("4zNsNcDNWFJUPhpBF2j6ZBA4f6arEHn3hEx1osH6Hvkq")

var (
	referrer = key(1)
	mintA    = key(2)
	mintB    = key(3)
)

func seed(t *testing.T) (*vault.Registry, *memory.SettlementStore) {
	t.Helper()
	ctx := context.Background()

	vaults := memory.NewVaultStore()
	for i, m := range []solana.PublicKey{mintA, mintA, mintB} {
		require.NoError(t, vaults.Insert(ctx, &domain.Vault{
			Address:   key(byte(10 + i)),
			Owner:     key(byte(20 + i)),
			TokenMint: m,
			Referrer:  referrer,
		}))
	}

	settlements := memory.NewSettlementStore()
	entries := []*domain.Settlement{
		{SettlementID: "a", Vault: key(10), TokenMint: mintA, Referrer: referrer, Kind: domain.SettlementExecute, ReferrerFee: 10, ReferrerPaid: true, SettledAt: 1},
		{SettlementID: "b", Vault: key(11), TokenMint: mintA, Referrer: referrer, Kind: domain.SettlementExecute, ReferrerFee: 5, ReferrerPaid: true, SettledAt: 2},
		{SettlementID: "c", Vault: key(12), TokenMint: mintB, Referrer: referrer, Kind: domain.SettlementCancel, SettledAt: 3},
	}
	for _, s := range entries {
		require.NoError(t, settlements.Insert(ctx, s))
	}
	return vault.NewRegistry(testProgramID, vaults), settlements
}

func TestService_Stats(t *testing.T) {
	vaults, settlements := seed(t)
	svc := NewService(vaults, settlements)

	stats, err := svc.Stats(context.Background(), referrer)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalReferrals)
	assert.Equal(t, 2, stats.ExecutedReferrals)
	assert.Equal(t, map[string]uint64{mintA.String(): 15}, stats.EarningsByMint)
}

func TestService_StatsWithoutJournal(t *testing.T) {
	vaults, _ := seed(t)
	svc := NewService(vaults, nil)

	stats, err := svc.Stats(context.Background(), referrer)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalReferrals)
	assert.Zero(t, stats.ExecutedReferrals)
	assert.Empty(t, stats.EarningsByMint)
}

func TestService_UnknownAndZeroReferrer(t *testing.T) {
	vaults, settlements := seed(t)
	svc := NewService(vaults, settlements)

	stats, err := svc.Stats(context.Background(), key(99))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReferrals)

	_, err = svc.Stats(context.Background(), solana.ZeroKey)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, uint64(3), saturatingAdd(1, 2))
	assert.Equal(t, uint64(math.MaxUint64), saturatingAdd(math.MaxUint64, 1))
}

func TestLink(t *testing.T) {
	link, err := Link("https://autotp.example", referrer)
	require.NoError(t, err)
	assert.Equal(t, "https://autotp.example/?ref="+referrer.String(), link)

	got, err := FromLink(link)
	require.NoError(t, err)
	assert.Equal(t, referrer, got)

	none, err := FromLink("https://autotp.example/")
	require.NoError(t, err)
	assert.True(t, none.IsZero())

	_, err = FromLink("https://autotp.example/?ref=not-a-key")
	assert.Error(t, err)
}
