package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"autotp/internal/domain"
	"autotp/internal/idhash"
	"autotp/internal/ledger"
	"autotp/internal/solana"
)

// Ledger implements ledger.AtomicLedger on PostgreSQL. Every operation runs
// in one transaction with the touched account rows locked.
type Ledger struct {
	pool *Pool
	now  func() time.Time
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool) *Ledger {
	return &Ledger{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ ledger.AtomicLedger = (*Ledger)(nil)

type accountRow struct {
	address   solana.PublicKey
	authority solana.PublicKey
	mint      solana.PublicKey
	balance   uint64
}

// OpenAccount creates account; a no-op if it exists with the same authority and mint.
func (l *Ledger) OpenAccount(ctx context.Context, account, authority, mint solana.PublicKey) (err error) {
	if account.IsZero() || authority.IsZero() || mint.IsZero() {
		return fmt.Errorf("open account: zero key")
	}
	defer observeQuery("ledger_open", time.Now(), &err)

	return l.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertAccount(ctx, tx, account, authority, mint); err != nil {
			return err
		}
		acct, err := lockAccount(ctx, tx, account)
		if err != nil {
			return err
		}
		if acct.authority != authority || acct.mint != mint {
			return fmt.Errorf("open account %s: %w", account, ledger.ErrAccountExists)
		}
		return nil
	})
}

// Deposit credits account from outside the system.
func (l *Ledger) Deposit(ctx context.Context, account solana.PublicKey, amount uint64) (err error) {
	defer observeQuery("ledger_deposit", time.Now(), &err)

	return l.inTx(ctx, func(tx pgx.Tx) error {
		acct, err := lockAccount(ctx, tx, account)
		if err != nil {
			return fmt.Errorf("deposit: %w", err)
		}
		if acct.balance > math.MaxUint64-amount {
			return fmt.Errorf("deposit %s: %w", account, ledger.ErrOverflow)
		}
		return setBalance(ctx, tx, account, acct.balance+amount)
	})
}

// Balance returns the balance of account.
func (l *Ledger) Balance(ctx context.Context, account solana.PublicKey) (balance uint64, err error) {
	defer observeQuery("ledger_balance", time.Now(), &err)

	var n pgtype.Numeric
	err = l.pool.QueryRow(ctx, `SELECT balance FROM ledger_accounts WHERE address = $1`, account.String()).Scan(&n)
	if err != nil {
		if isNotFoundError(err) {
			return 0, fmt.Errorf("balance %s: %w", account, ledger.ErrAccountNotFound)
		}
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}
	return fromNumeric(n)
}

// Transfer applies one transfer in its own transaction.
func (l *Ledger) Transfer(ctx context.Context, from solana.PublicKey, t ledger.Transfer, auth ledger.Authorization) (receipt *domain.Receipt, err error) {
	defer observeQuery("ledger_transfer", time.Now(), &err)

	err = l.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		receipt, err = l.transfer(ctx, tx, from, t, auth)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// TransferBatch applies all transfers in one transaction, or none.
func (l *Ledger) TransferBatch(ctx context.Context, from solana.PublicKey, transfers []ledger.Transfer, auth ledger.Authorization) (receipts []*domain.Receipt, err error) {
	defer observeQuery("ledger_transfer_batch", time.Now(), &err)

	err = l.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockDestinations(ctx, tx, from, transfers); err != nil {
			return err
		}
		receipts = make([]*domain.Receipt, 0, len(transfers))
		for _, t := range transfers {
			r, err := l.transfer(ctx, tx, from, t, auth)
			if err != nil {
				return err
			}
			receipts = append(receipts, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// lockDestinations locks from, then opens and locks every credited account
// in address order. Batches sharing recipients then take row locks in the
// same order.
func lockDestinations(ctx context.Context, tx pgx.Tx, from solana.PublicKey, transfers []ledger.Transfer) error {
	src, err := lockAccount(ctx, tx, from)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}

	recipients := make(map[solana.PublicKey]solana.PublicKey, len(transfers))
	for _, t := range transfers {
		to, err := ledger.DestinationAccount(t.Recipient, src.mint)
		if err != nil {
			return fmt.Errorf("transfer from %s: %w", from, err)
		}
		recipients[to] = t.Recipient
	}

	accounts := make([]solana.PublicKey, 0, len(recipients))
	for to := range recipients {
		accounts = append(accounts, to)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].String() < accounts[j].String()
	})

	for _, to := range accounts {
		if err := insertAccount(ctx, tx, to, recipients[to], src.mint); err != nil {
			return err
		}
		if _, err := lockAccount(ctx, tx, to); err != nil {
			return fmt.Errorf("transfer to %s: %w", to, err)
		}
	}
	return nil
}

func (l *Ledger) transfer(ctx context.Context, tx pgx.Tx, from solana.PublicKey, t ledger.Transfer, auth ledger.Authorization) (*domain.Receipt, error) {
	src, err := lockAccount(ctx, tx, from)
	if err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	if err := ledger.CheckAuthorization(from, src.authority, auth); err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	if t.Amount > src.balance {
		return nil, fmt.Errorf("transfer %d from %s (balance %d): %w", t.Amount, from, src.balance, ledger.ErrInsufficientFunds)
	}

	to, err := ledger.DestinationAccount(t.Recipient, src.mint)
	if err != nil {
		return nil, fmt.Errorf("transfer from %s: %w", from, err)
	}
	if err := insertAccount(ctx, tx, to, t.Recipient, src.mint); err != nil {
		return nil, err
	}
	dst, err := lockAccount(ctx, tx, to)
	if err != nil {
		return nil, fmt.Errorf("transfer to %s: %w", to, err)
	}
	if dst.mint != src.mint {
		return nil, fmt.Errorf("transfer to %s: %w", to, ledger.ErrMintMismatch)
	}

	if from != to {
		if dst.balance > math.MaxUint64-t.Amount {
			return nil, fmt.Errorf("transfer to %s: %w", to, ledger.ErrOverflow)
		}
		if err := setBalance(ctx, tx, from, src.balance-t.Amount); err != nil {
			return nil, err
		}
		if err := setBalance(ctx, tx, to, dst.balance+t.Amount); err != nil {
			return nil, err
		}
	}

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('ledger_receipt_seq')`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next receipt sequence: %w", err)
	}

	r := &domain.Receipt{
		ReceiptID: idhash.ComputeReceiptID(from, to, t.Amount, uint64(seq)),
		From:      from,
		To:        to,
		Recipient: t.Recipient,
		Mint:      src.mint,
		Amount:    t.Amount,
		Authority: auth.Authority(),
		Sequence:  uint64(seq),
		CreatedAt: l.now().UnixMilli(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_receipts (
			receipt_id, sequence, from_account, to_account, recipient, mint, amount, authority, created_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		r.ReceiptID, seq, r.From.String(), r.To.String(), r.Recipient.String(),
		r.Mint.String(), numeric(r.Amount), r.Authority.String(), r.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert receipt: %w", err)
	}
	return r, nil
}

// Reverse moves a stored receipt's amount back to its source.
func (l *Ledger) Reverse(ctx context.Context, receipt *domain.Receipt, auth ledger.Authorization) (err error) {
	if err := ledger.CheckReversal(receipt, auth); err != nil {
		return fmt.Errorf("reverse: %w", err)
	}
	defer observeQuery("ledger_reverse", time.Now(), &err)

	return l.inTx(ctx, func(tx pgx.Tx) error {
		var (
			fromStr, toStr, authStr string
			amount                  pgtype.Numeric
			reversedAt              *int64
		)
		err := tx.QueryRow(ctx, `
			SELECT from_account, to_account, authority, amount, reversed_at_ms
			FROM ledger_receipts WHERE receipt_id = $1 FOR UPDATE
		`, receipt.ReceiptID).Scan(&fromStr, &toStr, &authStr, &amount, &reversedAt)
		if err != nil {
			if isNotFoundError(err) {
				return fmt.Errorf("reverse %s: receipt unknown: %w", receipt.ReceiptID, ledger.ErrUnauthorizedTransfer)
			}
			return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, err)
		}
		if reversedAt != nil {
			return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, ledger.ErrAlreadyReversed)
		}

		stored := domain.Receipt{ReceiptID: receipt.ReceiptID}
		if err := parseKeys(
			keyField{&stored.From, fromStr},
			keyField{&stored.To, toStr},
			keyField{&stored.Authority, authStr},
		); err != nil {
			return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, err)
		}
		if stored.Amount, err = fromNumeric(amount); err != nil {
			return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, err)
		}
		if err := ledger.CheckReversal(&stored, auth); err != nil {
			return fmt.Errorf("reverse: %w", err)
		}

		src, err := lockAccount(ctx, tx, stored.From)
		if err != nil {
			return fmt.Errorf("reverse to %s: %w", stored.From, err)
		}
		dst, err := lockAccount(ctx, tx, stored.To)
		if err != nil {
			return fmt.Errorf("reverse from %s: %w", stored.To, err)
		}
		if stored.From != stored.To {
			if stored.Amount > dst.balance {
				return fmt.Errorf("reverse %s: %w", receipt.ReceiptID, ledger.ErrInsufficientFunds)
			}
			if err := setBalance(ctx, tx, stored.To, dst.balance-stored.Amount); err != nil {
				return err
			}
			if err := setBalance(ctx, tx, stored.From, src.balance+stored.Amount); err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE ledger_receipts SET reversed_at_ms = $2 WHERE receipt_id = $1`,
			receipt.ReceiptID, l.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("mark reversed: %w", err)
		}
		return nil
	})
}

func (l *Ledger) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertAccount(ctx context.Context, tx pgx.Tx, account, authority, mint solana.PublicKey) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_accounts (address, authority, mint)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`, account.String(), authority.String(), mint.String())
	if err != nil {
		return fmt.Errorf("insert account %s: %w", account, err)
	}
	return nil
}

func lockAccount(ctx context.Context, tx pgx.Tx, account solana.PublicKey) (*accountRow, error) {
	var (
		authority, mint string
		balance         pgtype.Numeric
	)
	err := tx.QueryRow(ctx,
		`SELECT authority, mint, balance FROM ledger_accounts WHERE address = $1 FOR UPDATE`,
		account.String(),
	).Scan(&authority, &mint, &balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", account, ledger.ErrAccountNotFound)
		}
		return nil, fmt.Errorf("lock account %s: %w", account, err)
	}

	row := &accountRow{address: account}
	if err := parseKeys(keyField{&row.authority, authority}, keyField{&row.mint, mint}); err != nil {
		return nil, err
	}
	if row.balance, err = fromNumeric(balance); err != nil {
		return nil, fmt.Errorf("account %s balance: %w", account, err)
	}
	return row, nil
}

func setBalance(ctx context.Context, tx pgx.Tx, account solana.PublicKey, balance uint64) error {
	_, err := tx.Exec(ctx,
		`UPDATE ledger_accounts SET balance = $2 WHERE address = $1`,
		account.String(), numeric(balance),
	)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", account, err)
	}
	return nil
}
