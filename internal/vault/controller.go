package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autotp/internal/domain"
	"autotp/internal/idhash"
	"autotp/internal/ledger"
	"autotp/internal/observability"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// ProtocolTreasury receives the protocol share on execute.
	ProtocolTreasury solana.PublicKey
	// Fees selects the zero-referrer behavior.
	Fees FeePolicy
}

// Controller exposes the vault lifecycle: initialize, cancel, execute.
// Requests against the same owner are serialized.
type Controller struct {
	registry    *Registry
	ledger      ledger.Ledger
	settlements storage.SettlementStore
	treasury    solana.PublicKey
	fees        FeePolicy
	locks       *keyedLocks
	logger      zerolog.Logger
	now         func() time.Time
}

// NewController creates a controller. settlements may be nil to disable the journal.
func NewController(registry *Registry, l ledger.Ledger, settlements storage.SettlementStore, cfg ControllerConfig, logger zerolog.Logger) *Controller {
	return &Controller{
		registry:    registry,
		ledger:      l,
		settlements: settlements,
		treasury:    cfg.ProtocolTreasury,
		fees:        cfg.Fees,
		locks:       newKeyedLocks(),
		logger:      logger.With().Str("component", "vault").Logger(),
		now:         time.Now,
	}
}

// InitializeRequest creates a vault.
type InitializeRequest struct {
	Caller      solana.PublicKey // verified identity of the signer
	Owner       solana.PublicKey
	TokenMint   solana.PublicKey
	TargetPrice uint64
	Referrer    solana.PublicKey // ZeroKey for none
}

// Snapshot is a vault together with its custodial account state.
type Snapshot struct {
	Vault   *domain.Vault
	Custody solana.PublicKey
	Balance uint64
}

// Initialize creates the vault record and opens its custodial account.
// No funds move. If the account cannot be opened the record is removed again.
func (c *Controller) Initialize(ctx context.Context, req InitializeRequest) (*Snapshot, error) {
	start := time.Now()
	defer observeLatency("initialize", start)

	if req.Owner.IsZero() || req.TokenMint.IsZero() {
		return nil, c.reject("initialize", fmt.Errorf("owner and token mint are required: %w", ErrInvalidInput))
	}
	if req.Caller != req.Owner {
		return nil, c.reject("initialize", fmt.Errorf("caller %s is not owner %s: %w", req.Caller, req.Owner, ErrUnauthorized))
	}

	unlock := c.locks.lock(req.Owner)
	defer unlock()

	addr, _, err := c.registry.Address(req.Owner)
	if err != nil {
		return nil, err
	}
	auth, err := deriveAuthority(c.registry.ProgramID(), addr)
	if err != nil {
		return nil, err
	}

	v, err := c.registry.Create(ctx, req.Owner, req.TokenMint, req.TargetPrice, req.Referrer)
	if err != nil {
		return nil, c.reject("initialize", err)
	}

	if err := c.ledger.OpenAccount(ctx, auth.Account(), auth.Authority(), req.TokenMint); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			err = fmt.Errorf("custodial account %s: %w", auth.Account(), ErrAlreadyExists)
		} else {
			err = fmt.Errorf("open custodial account: %w", err)
		}
		if rerr := c.registry.Remove(context.WithoutCancel(ctx), v.Address); rerr != nil {
			c.logger.Error().Err(rerr).
				Str("vault", v.Address.String()).
				Msg("record left without custodial account")
			return nil, errors.Join(err, rerr)
		}
		return nil, c.reject("initialize", err)
	}

	balance, err := c.ledger.Balance(ctx, auth.Account())
	if err != nil {
		return nil, fmt.Errorf("read custodial balance: %w", err)
	}

	observability.RecordVaultInitialized()
	c.logger.Info().
		Str("vault", v.Address.String()).
		Str("owner", v.Owner.String()).
		Str("mint", v.TokenMint.String()).
		Uint64("target_price", v.TargetPrice).
		Str("referrer", v.Referrer.String()).
		Msg("vault initialized")

	return &Snapshot{Vault: v, Custody: auth.Account(), Balance: balance}, nil
}

// Get returns the vault of owner with its custodial balance.
func (c *Controller) Get(ctx context.Context, owner solana.PublicKey) (*Snapshot, error) {
	v, err := c.registry.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	auth, err := deriveAuthority(c.registry.ProgramID(), v.Address)
	if err != nil {
		return nil, err
	}
	balance, err := c.ledger.Balance(ctx, auth.Account())
	if err != nil {
		return nil, fmt.Errorf("read custodial balance: %w", err)
	}
	return &Snapshot{Vault: v, Custody: auth.Account(), Balance: balance}, nil
}

// Balance returns the custodial balance of owner's vault.
func (c *Controller) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	snap, err := c.Get(ctx, owner)
	if err != nil {
		return 0, err
	}
	return snap.Balance, nil
}

// Deposit funds the custodial account of owner's vault from outside the system.
func (c *Controller) Deposit(ctx context.Context, owner solana.PublicKey, amount uint64) (*Snapshot, error) {
	unlock := c.locks.lock(owner)
	defer unlock()

	v, err := c.registry.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	auth, err := deriveAuthority(c.registry.ProgramID(), v.Address)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.Deposit(ctx, auth.Account(), amount); err != nil {
		return nil, fmt.Errorf("deposit to %s: %w", auth.Account(), err)
	}
	balance, err := c.ledger.Balance(ctx, auth.Account())
	if err != nil {
		return nil, fmt.Errorf("read custodial balance: %w", err)
	}
	return &Snapshot{Vault: v, Custody: auth.Account(), Balance: balance}, nil
}

// RecordPrice stores the latest observed price on owner's vault.
func (c *Controller) RecordPrice(ctx context.Context, owner solana.PublicKey, price uint64) (*domain.Vault, error) {
	unlock := c.locks.lock(owner)
	defer unlock()

	v, err := c.registry.Load(ctx, owner)
	if err != nil {
		return nil, err
	}
	v.CurrentPrice = price
	if err := c.registry.Save(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// VaultsByMint returns every vault holding mint.
func (c *Controller) VaultsByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error) {
	return c.registry.ListByMint(ctx, mint)
}

// CancelResult describes a completed cancel.
type CancelResult struct {
	Vault      *domain.Vault
	Receipt    *domain.Receipt
	Settlement *domain.Settlement
}

// Cancel returns the whole custodial balance to the owner.
// Fails with ErrUnauthorized, moving nothing, if caller is not the owner.
func (c *Controller) Cancel(ctx context.Context, caller, owner solana.PublicKey) (*CancelResult, error) {
	start := time.Now()
	defer observeLatency("cancel", start)

	unlock := c.locks.lock(owner)
	defer unlock()

	v, err := c.registry.Load(ctx, owner)
	if err != nil {
		return nil, c.reject("cancel", err)
	}
	if caller != v.Owner {
		return nil, c.reject("cancel", fmt.Errorf("caller %s is not owner of vault %s: %w", caller, v.Address, ErrUnauthorized))
	}

	auth, err := deriveAuthority(c.registry.ProgramID(), v.Address)
	if err != nil {
		return nil, err
	}
	total, err := c.ledger.Balance(ctx, auth.Account())
	if err != nil {
		return nil, fmt.Errorf("read custodial balance: %w", err)
	}

	receipt, err := auth.AuthorizeTransfer(ctx, c.ledger, v.Owner, total)
	if err != nil {
		return nil, c.reject("cancel", err)
	}
	observability.RecordTransfers(1, 0)

	settlement := c.journal(ctx, v, domain.SettlementCancel, caller, 0, Split{Total: total, UserAmount: total}, receipt)
	observability.RecordVaultCancelled(total)
	c.logger.Info().
		Str("vault", v.Address.String()).
		Str("owner", v.Owner.String()).
		Uint64("amount", total).
		Msg("vault cancelled")

	return &CancelResult{Vault: v, Receipt: receipt, Settlement: settlement}, nil
}

// ExecuteRequest releases a vault whose target is reached.
type ExecuteRequest struct {
	Caller        solana.PublicKey
	Owner         solana.PublicKey
	ObservedPrice uint64 // 0 means use the vault's current price
}

// ExecuteResult describes a completed execute.
type ExecuteResult struct {
	Vault      *domain.Vault
	Price      uint64
	Split      Split
	Receipts   []*domain.Receipt
	Settlement *domain.Settlement
}

// Execute checks the price gate and splits the custodial balance between
// referrer, protocol and owner. Either every transfer and the record update
// take effect, or none do.
func (c *Controller) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	start := time.Now()
	defer observeLatency("execute", start)

	unlock := c.locks.lock(req.Owner)
	defer unlock()

	v, err := c.registry.Load(ctx, req.Owner)
	if err != nil {
		return nil, c.reject("execute", err)
	}

	price := req.ObservedPrice
	if price == 0 {
		price = v.CurrentPrice
	}
	if !v.TargetReached(price) {
		return nil, c.reject("execute", fmt.Errorf("price %d below target %d: %w", price, v.TargetPrice, ErrTargetNotReached))
	}

	auth, err := deriveAuthority(c.registry.ProgramID(), v.Address)
	if err != nil {
		return nil, err
	}
	total, err := c.ledger.Balance(ctx, auth.Account())
	if err != nil {
		return nil, fmt.Errorf("read custodial balance: %w", err)
	}

	split := c.fees.Split(total, v.HasReferrer())
	receipts, err := c.settle(ctx, auth, split.Transfers(v.Referrer, c.treasury, v.Owner))
	if err != nil {
		return nil, c.reject("execute", err)
	}

	v.ReadyForExecution = false
	if err := c.registry.Save(ctx, v); err != nil {
		if cerr := c.compensate(ctx, auth, receipts); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	settlement := c.journal(ctx, v, domain.SettlementExecute, req.Caller, price, split, receipts...)
	paidReferrer := uint64(0)
	if split.PayReferrer {
		paidReferrer = split.ReferrerFee
	}
	observability.RecordVaultExecuted(paidReferrer, split.ProtocolShare, split.UserAmount)

	event := c.logger.Info().
		Str("vault", v.Address.String()).
		Str("owner", v.Owner.String()).
		Uint64("price", price).
		Uint64("total", split.Total).
		Uint64("referrer_fee", split.ReferrerFee).
		Uint64("protocol_share", split.ProtocolShare).
		Uint64("user_amount", split.UserAmount)
	if retained := split.Retained(); retained > 0 {
		event = event.Uint64("retained", retained)
	}
	event.Msg("vault executed")

	return &ExecuteResult{
		Vault:      v,
		Price:      price,
		Split:      split,
		Receipts:   receipts,
		Settlement: settlement,
	}, nil
}

// settle applies transfers as one unit: natively when the ledger supports
// batches, otherwise in order with compensation on failure.
func (c *Controller) settle(ctx context.Context, auth Authority, transfers []ledger.Transfer) ([]*domain.Receipt, error) {
	if batch, ok := c.ledger.(ledger.AtomicLedger); ok {
		receipts, err := batch.TransferBatch(ctx, auth.Account(), transfers, auth)
		if err != nil {
			return nil, fmt.Errorf("settle: %w", err)
		}
		observability.RecordTransfers(len(receipts), 0)
		return receipts, nil
	}

	receipts := make([]*domain.Receipt, 0, len(transfers))
	for _, t := range transfers {
		receipt, err := auth.AuthorizeTransfer(ctx, c.ledger, t.Recipient, t.Amount)
		if err != nil {
			if cerr := c.compensate(ctx, auth, receipts); cerr != nil {
				return nil, errors.Join(err, cerr)
			}
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	observability.RecordTransfers(len(receipts), 0)
	return receipts, nil
}

// compensate reverses receipts newest first. It runs even if ctx is cancelled.
func (c *Controller) compensate(ctx context.Context, auth Authority, receipts []*domain.Receipt) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(receipts) - 1; i >= 0; i-- {
		if err := c.ledger.Reverse(ctx, receipts[i], auth); err != nil {
			c.logger.Error().Err(err).
				Str("receipt", receipts[i].ReceiptID).
				Str("vault", auth.Authority().String()).
				Msg("compensating transfer failed")
			errs = append(errs, err)
		}
	}
	observability.RecordTransfers(0, len(receipts)-len(errs))

	if len(errs) > 0 {
		return fmt.Errorf("compensate: %w", errors.Join(errs...))
	}
	return nil
}

// journal appends a settlement record. Failures are logged, not returned:
// the funds have already moved.
func (c *Controller) journal(ctx context.Context, v *domain.Vault, kind domain.SettlementKind, caller solana.PublicKey, price uint64, split Split, receipts ...*domain.Receipt) *domain.Settlement {
	settledAt := c.now().UnixMilli()
	firstReceipt := ""
	if len(receipts) > 0 {
		firstReceipt = receipts[0].ReceiptID
	}

	s := &domain.Settlement{
		SettlementID:  idhash.ComputeSettlementID(v.Address, kind, split.Total, settledAt, firstReceipt),
		Vault:         v.Address,
		Owner:         v.Owner,
		TokenMint:     v.TokenMint,
		Referrer:      v.Referrer,
		Kind:          kind,
		Price:         price,
		Total:         split.Total,
		ProtocolFee:   split.ProtocolFee,
		ReferrerFee:   split.ReferrerFee,
		ProtocolShare: split.ProtocolShare,
		UserAmount:    split.UserAmount,
		ReferrerPaid:  split.PayReferrer,
		ExecutedBy:    caller,
		SettledAt:     settledAt,
	}

	if c.settlements == nil {
		return s
	}
	if err := c.settlements.Insert(context.WithoutCancel(ctx), s); err != nil {
		observability.RecordJournalError()
		c.logger.Error().Err(err).
			Str("vault", v.Address.String()).
			Str("settlement", s.SettlementID).
			Msg("journal settlement failed")
	}
	return s
}

// reject counts a failed request by reason and returns err unchanged.
func (c *Controller) reject(operation string, err error) error {
	observability.RecordRejected(operation, reasonOf(err))
	c.logger.Debug().Err(err).Str("operation", operation).Msg("request rejected")
	return err
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrTargetNotReached):
		return "target_not_reached"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "internal"
	}
}

func observeLatency(operation string, start time.Time) {
	observability.RecordOperationLatency(operation, time.Since(start).Seconds())
}
