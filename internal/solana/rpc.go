package solana

import "context"

// AccountReader defines the subset of Solana RPC used to read program state.
type AccountReader interface {
	// GetAccountInfo returns the account at pubkey, or nil if it does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetProgramAccounts returns all accounts owned by programID that match filters.
	GetProgramAccounts(ctx context.Context, programID string, filters ...AccountFilter) ([]ProgramAccount, error)
}
