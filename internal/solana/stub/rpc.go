package stub

import (
	"bytes"
	"context"

	"autotp/internal/solana"
)

// AccountReader implements solana.AccountReader for testing.
type AccountReader struct {
	// Accounts maps pubkey to account; all are treated as owned by any program queried.
	Accounts map[string]*solana.AccountInfo
	// Err, if set, is returned by every call.
	Err error
}

var _ solana.AccountReader = (*AccountReader)(nil)

// NewAccountReader creates a new stub account reader.
func NewAccountReader() *AccountReader {
	return &AccountReader{
		Accounts: make(map[string]*solana.AccountInfo),
	}
}

// GetAccountInfo returns the stored account or nil if absent.
func (r *AccountReader) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	info, ok := r.Accounts[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

// GetProgramAccounts applies filters to the stored accounts.
func (r *AccountReader) GetProgramAccounts(_ context.Context, _ string, filters ...solana.AccountFilter) ([]solana.ProgramAccount, error) {
	if r.Err != nil {
		return nil, r.Err
	}

	var out []solana.ProgramAccount
	for pubkey, info := range r.Accounts {
		data, err := info.DecodeData()
		if err != nil {
			return nil, err
		}
		if !matches(data, filters) {
			continue
		}
		out = append(out, solana.ProgramAccount{Pubkey: pubkey, Account: *info})
	}
	return out, nil
}

func matches(data []byte, filters []solana.AccountFilter) bool {
	for _, f := range filters {
		if f.Memcmp != nil {
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
			continue
		}
		if uint64(len(data)) != f.DataSize {
			return false
		}
	}
	return true
}
