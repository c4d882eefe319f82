package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/solana/stub"
)

func accountInfo(data []byte) *solana.AccountInfo {
	return &solana.AccountInfo{
		Lamports: 1_000_000,
		Owner:    testProgramID.String(),
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

func TestChainReader_FetchVault(t *testing.T) {
	ctx := context.Background()
	rpc := stub.NewAccountReader()
	reader := NewChainReader(testProgramID, rpc)

	addr, bump, err := DeriveVaultAddress(testProgramID, owner)
	require.NoError(t, err)

	onChain := &domain.Vault{Owner: owner, TokenMint: mint, TargetPrice: 150, Referrer: referrer, CurrentPrice: 120}
	rpc.Accounts[addr.String()] = accountInfo(EncodeAccount(onChain))

	v, err := reader.FetchVault(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, addr, v.Address)
	assert.Equal(t, bump, v.Bump)
	assert.Equal(t, uint64(150), v.TargetPrice)
	assert.Equal(t, uint64(120), v.CurrentPrice)
	assert.Equal(t, referrer, v.Referrer)

	_, err = reader.FetchVault(ctx, stranger)
	assert.ErrorIs(t, err, ErrNotFound)

	rpc.Accounts[addr.String()] = accountInfo([]byte{1, 2, 3})
	_, err = reader.FetchVault(ctx, owner)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	rpc.Err = errors.New("rpc down")
	_, err = reader.FetchVault(ctx, owner)
	assert.Error(t, err)
}

func TestChainReader_VaultsByReferrer(t *testing.T) {
	ctx := context.Background()
	rpc := stub.NewAccountReader()
	reader := NewChainReader(testProgramID, rpc)

	add := func(o, ref solana.PublicKey) solana.PublicKey {
		addr, _, err := DeriveVaultAddress(testProgramID, o)
		require.NoError(t, err)
		rpc.Accounts[addr.String()] = accountInfo(EncodeAccount(&domain.Vault{Owner: o, TokenMint: mint, Referrer: ref}))
		return addr
	}
	first := add(owner, referrer)
	add(stranger, referrer)
	add(key(30), treasury)

	// a foreign account of the wrong size is filtered out
	rpc.Accounts[key(40).String()] = accountInfo(make([]byte, 64))

	vaults, err := reader.VaultsByReferrer(ctx, referrer)
	require.NoError(t, err)
	require.Len(t, vaults, 2)
	for _, v := range vaults {
		assert.Equal(t, referrer, v.Referrer)
		if v.Owner == owner {
			assert.Equal(t, first, v.Address)
		}
	}

	n, err := reader.CountByReferrer(ctx, treasury)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = reader.CountByReferrer(ctx, key(50))
	require.NoError(t, err)
	assert.Zero(t, n)
}
