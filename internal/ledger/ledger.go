// Package ledger models the token-account substrate that holds custodied
// balances and mediates transfers between accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"autotp/internal/domain"
	"autotp/internal/solana"
)

// Ledger errors.
var (
	// ErrAccountNotFound is returned when an account has not been opened.
	ErrAccountNotFound = errors.New("ledger account not found")

	// ErrAccountExists is returned when opening an account that exists with
	// a different authority or mint.
	ErrAccountExists = errors.New("ledger account exists with different authority or mint")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnauthorizedTransfer is returned when the authorization does not
	// cover the debited account.
	ErrUnauthorizedTransfer = errors.New("transfer not authorized")

	// ErrMintMismatch is returned when crediting an account of another mint.
	ErrMintMismatch = errors.New("mint mismatch")

	// ErrAlreadyReversed is returned when a receipt is reversed twice.
	ErrAlreadyReversed = errors.New("receipt already reversed")

	// ErrOverflow is returned when a credit would overflow u64.
	ErrOverflow = errors.New("balance overflow")
)

// Scope names what an authorization may do.
type Scope string

// ScopeTransfer permits outbound transfers from a single account.
const ScopeTransfer Scope = "transfer"

// Authorization is a signing capability over one account.
type Authorization interface {
	// Authority is the identity that signs; it must be the account's recorded authority.
	Authority() solana.PublicKey
	// Account is the only account this capability may debit.
	Account() solana.PublicKey
	// Scope is the permitted action.
	Scope() Scope
}

// Transfer is one outbound movement from a custodial account to the
// recipient's associated token account for the source mint.
type Transfer struct {
	Recipient solana.PublicKey // wallet
	Amount    uint64
}

// DestinationAccount returns the token account credited when paying recipient in mint.
func DestinationAccount(recipient, mint solana.PublicKey) (solana.PublicKey, error) {
	if recipient.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("recipient is the zero key: %w", ErrAccountNotFound)
	}
	return solana.FindAssociatedTokenAddress(recipient, mint)
}

// Ledger holds balances and applies authorized transfers one at a time.
type Ledger interface {
	// OpenAccount creates account with the given authority and mint.
	// It is a no-op if the account exists with the same authority and mint,
	// and returns ErrAccountExists otherwise.
	OpenAccount(ctx context.Context, account, authority, mint solana.PublicKey) error

	// Deposit credits account from outside the system.
	Deposit(ctx context.Context, account solana.PublicKey, amount uint64) error

	// Balance returns the balance of account. Returns ErrAccountNotFound if not opened.
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// Transfer debits from and credits the recipient's associated token
	// account, opening it on first credit with the recipient as authority.
	Transfer(ctx context.Context, from solana.PublicKey, t Transfer, auth Authorization) (*domain.Receipt, error)

	// Reverse undoes a receipt by moving its amount back to the source.
	// auth must be the authorization that produced the receipt.
	Reverse(ctx context.Context, receipt *domain.Receipt, auth Authorization) error
}

// AtomicLedger is a Ledger that commits several transfers as one unit.
type AtomicLedger interface {
	Ledger

	// TransferBatch applies all transfers from the same account or none.
	TransferBatch(ctx context.Context, from solana.PublicKey, transfers []Transfer, auth Authorization) ([]*domain.Receipt, error)
}

// CheckAuthorization verifies that auth may debit from, whose recorded
// authority is accountAuthority.
func CheckAuthorization(from, accountAuthority solana.PublicKey, auth Authorization) error {
	if auth == nil {
		return ErrUnauthorizedTransfer
	}
	if auth.Scope() != ScopeTransfer {
		return ErrUnauthorizedTransfer
	}
	if auth.Account() != from || auth.Authority() != accountAuthority {
		return ErrUnauthorizedTransfer
	}
	return nil
}

// CheckReversal verifies that auth produced receipt.
func CheckReversal(receipt *domain.Receipt, auth Authorization) error {
	if receipt == nil || auth == nil {
		return ErrUnauthorizedTransfer
	}
	if auth.Scope() != ScopeTransfer || auth.Account() != receipt.From || auth.Authority() != receipt.Authority {
		return ErrUnauthorizedTransfer
	}
	return nil
}
