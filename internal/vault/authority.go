package vault

import (
	"context"
	"fmt"

	"autotp/internal/domain"
	"autotp/internal/ledger"
	"autotp/internal/solana"
)

// Authority is the vault-scoped signing capability over the vault's
// custodial account. It is derived per request, never persisted, and can
// only be constructed inside this package. The zero value authorizes nothing.
type Authority struct {
	vault   solana.PublicKey
	custody solana.PublicKey
	bump    uint8
}

var _ ledger.Authorization = Authority{}

// Authority returns the signing identity, the vault address.
func (a Authority) Authority() solana.PublicKey { return a.vault }

// Account returns the custodial account this capability may debit.
func (a Authority) Account() solana.PublicKey { return a.custody }

// Scope returns ScopeTransfer for a derived authority and "" for the zero value.
func (a Authority) Scope() ledger.Scope {
	if a.vault.IsZero() {
		return ""
	}
	return ledger.ScopeTransfer
}

// deriveAuthority builds the capability for the vault at vaultAddress.
func deriveAuthority(programID, vaultAddress solana.PublicKey) (Authority, error) {
	custody, bump, err := DeriveCustodyAddress(programID, vaultAddress)
	if err != nil {
		return Authority{}, err
	}
	return Authority{vault: vaultAddress, custody: custody, bump: bump}, nil
}

// AuthorizeTransfer moves amount from the custodial account to recipient.
// Fails with ledger.ErrInsufficientFunds if amount exceeds the balance.
func (a Authority) AuthorizeTransfer(ctx context.Context, l ledger.Ledger, recipient solana.PublicKey, amount uint64) (*domain.Receipt, error) {
	receipt, err := l.Transfer(ctx, a.custody, ledger.Transfer{Recipient: recipient, Amount: amount}, a)
	if err != nil {
		return nil, fmt.Errorf("authorize transfer of %d to %s: %w", amount, recipient, err)
	}
	return receipt, nil
}
