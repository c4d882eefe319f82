package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"autotp/internal/domain"
	"autotp/internal/idhash"
	"autotp/internal/solana"
)

type account struct {
	authority solana.PublicKey
	mint      solana.PublicKey
	balance   uint64
}

// MemoryLedger is an in-memory Ledger. Each call is atomic on its own;
// it has no multi-transfer commit, so callers compensate with Reverse.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*account
	reversed map[string]struct{}
	seq      uint64
	now      func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[solana.PublicKey]*account),
		reversed: make(map[string]struct{}),
		now:      time.Now,
	}
}

// OpenAccount creates account with the given authority and mint.
func (l *MemoryLedger) OpenAccount(_ context.Context, acct, authority, mint solana.PublicKey) error {
	if acct.IsZero() || authority.IsZero() || mint.IsZero() {
		return fmt.Errorf("open account: zero key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.accounts[acct]; ok {
		if existing.authority != authority || existing.mint != mint {
			return fmt.Errorf("open account %s: %w", acct, ErrAccountExists)
		}
		return nil
	}

	l.accounts[acct] = &account{authority: authority, mint: mint}
	return nil
}

// Deposit credits account from outside the system.
func (l *MemoryLedger) Deposit(_ context.Context, acct solana.PublicKey, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[acct]
	if !ok {
		return fmt.Errorf("deposit %s: %w", acct, ErrAccountNotFound)
	}
	if a.balance > math.MaxUint64-amount {
		return fmt.Errorf("deposit %s: %w", acct, ErrOverflow)
	}
	a.balance += amount
	return nil
}

// Balance returns the balance of account.
func (l *MemoryLedger) Balance(_ context.Context, acct solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[acct]
	if !ok {
		return 0, fmt.Errorf("balance %s: %w", acct, ErrAccountNotFound)
	}
	return a.balance, nil
}

// Transfer debits from and credits the recipient's associated token account.
func (l *MemoryLedger) Transfer(_ context.Context, from solana.PublicKey, t Transfer, auth Authorization) (*domain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return nil, fmt.Errorf("transfer from %s: %w", from, ErrAccountNotFound)
	}
	if err := CheckAuthorization(from, src.authority, auth); err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	if t.Amount > src.balance {
		return nil, fmt.Errorf("transfer %d from %s (balance %d): %w", t.Amount, from, src.balance, ErrInsufficientFunds)
	}

	to, err := DestinationAccount(t.Recipient, src.mint)
	if err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	dst, err := l.destination(to, t.Recipient, src.mint)
	if err != nil {
		return nil, err
	}
	if from != to && dst.balance > math.MaxUint64-t.Amount {
		return nil, fmt.Errorf("transfer to %s: %w", to, ErrOverflow)
	}

	src.balance -= t.Amount
	dst.balance += t.Amount

	l.seq++
	return &domain.Receipt{
		ReceiptID: idhash.ComputeReceiptID(from, to, t.Amount, l.seq),
		From:      from,
		To:        to,
		Recipient: t.Recipient,
		Mint:      src.mint,
		Amount:    t.Amount,
		Authority: auth.Authority(),
		Sequence:  l.seq,
		CreatedAt: l.now().UnixMilli(),
	}, nil
}

// destination returns the credited account, opening it on first use.
// Caller must hold l.mu.
func (l *MemoryLedger) destination(to, owner, mint solana.PublicKey) (*account, error) {
	dst, ok := l.accounts[to]
	if !ok {
		dst = &account{authority: owner, mint: mint}
		l.accounts[to] = dst
		return dst, nil
	}
	if dst.mint != mint {
		return nil, fmt.Errorf("transfer to %s: %w", to, ErrMintMismatch)
	}
	return dst, nil
}

// Reverse moves a receipt's amount back to its source.
func (l *MemoryLedger) Reverse(_ context.Context, receipt *domain.Receipt, auth Authorization) error {
	if err := CheckReversal(receipt, auth); err != nil {
		return fmt.Errorf("reverse: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.reversed[receipt.ReceiptID]; done {
		return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, ErrAlreadyReversed)
	}

	src, ok := l.accounts[receipt.From]
	if !ok {
		return fmt.Errorf("reverse to %s: %w", receipt.From, ErrAccountNotFound)
	}
	dst, ok := l.accounts[receipt.To]
	if !ok {
		return fmt.Errorf("reverse from %s: %w", receipt.To, ErrAccountNotFound)
	}
	if receipt.Amount > dst.balance {
		return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, ErrInsufficientFunds)
	}

	dst.balance -= receipt.Amount
	src.balance += receipt.Amount
	l.reversed[receipt.ReceiptID] = struct{}{}
	return nil
}

var _ Ledger = (*MemoryLedger)(nil)
