package vault

import (
	"context"
	"fmt"

	"autotp/internal/domain"
	"autotp/internal/solana"
)

// ChainReader reads vault accounts of a deployed program over RPC.
type ChainReader struct {
	programID solana.PublicKey
	rpc       solana.AccountReader
}

// NewChainReader creates a reader for vaults of programID.
func NewChainReader(programID solana.PublicKey, rpc solana.AccountReader) *ChainReader {
	return &ChainReader{programID: programID, rpc: rpc}
}

// FetchVault reads and decodes the vault of owner. Returns ErrNotFound if
// the account does not exist.
func (c *ChainReader) FetchVault(ctx context.Context, owner solana.PublicKey) (*domain.Vault, error) {
	addr, bump, err := DeriveVaultAddress(c.programID, owner)
	if err != nil {
		return nil, err
	}

	info, err := c.rpc.GetAccountInfo(ctx, addr.String())
	if err != nil {
		return nil, fmt.Errorf("fetch vault %s: %w", addr, err)
	}
	if info == nil {
		return nil, fmt.Errorf("fetch vault %s: %w", addr, ErrNotFound)
	}

	data, err := info.DecodeData()
	if err != nil {
		return nil, fmt.Errorf("fetch vault %s: %w", addr, err)
	}
	v, err := DecodeAccount(data)
	if err != nil {
		return nil, fmt.Errorf("fetch vault %s: %w", addr, err)
	}
	v.Address = addr
	v.Bump = bump
	return v, nil
}

// VaultsByReferrer returns every vault account naming referrer.
func (c *ChainReader) VaultsByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error) {
	accounts, err := c.rpc.GetProgramAccounts(ctx, c.programID.String(),
		solana.DataSizeFilter(AccountSize),
		solana.MemcmpAt(ReferrerAccountOffset, referrer.Bytes()),
	)
	if err != nil {
		return nil, fmt.Errorf("vaults by referrer %s: %w", referrer, err)
	}

	vaults := make([]*domain.Vault, 0, len(accounts))
	for _, acc := range accounts {
		data, err := acc.Account.DecodeData()
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", acc.Pubkey, err)
		}
		v, err := DecodeAccount(data)
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", acc.Pubkey, err)
		}
		if v.Address, err = solana.ParsePublicKey(acc.Pubkey); err != nil {
			return nil, fmt.Errorf("vault %s: %w", acc.Pubkey, err)
		}
		vaults = append(vaults, v)
	}
	return vaults, nil
}

// CountByReferrer returns the number of vaults naming referrer.
func (c *ChainReader) CountByReferrer(ctx context.Context, referrer solana.PublicKey) (int, error) {
	vaults, err := c.VaultsByReferrer(ctx, referrer)
	if err != nil {
		return 0, err
	}
	return len(vaults), nil
}
