package vault

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autotp/internal/domain"
	"autotp/internal/ledger"
	"autotp/internal/solana"
	"autotp/internal/storage/memory"
)

var testProgramID = solana.MustParsePublicKey("4zNsNcDNWFJUPhpBF2j6ZBA4f6arEHn3hEx1osH6Hvkq")

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0], pk[31] = b, b
	return pk
}

var (
	owner    = key(1)
	mint     = key(2)
	referrer = key(3)
	treasury = key(4)
	stranger = key(5)
)

type harness struct {
	ctrl        *Controller
	ledger      ledger.Ledger
	registry    *Registry
	vaults      *memory.VaultStore
	settlements *memory.SettlementStore
}

func newHarness(t *testing.T, l ledger.Ledger, fees FeePolicy) *harness {
	t.Helper()
	if l == nil {
		l = ledger.NewMemoryLedger()
	}
	vaults := memory.NewVaultStore()
	settlements := memory.NewSettlementStore()
	registry := NewRegistry(testProgramID, vaults)
	ctrl := NewController(registry, l, settlements, ControllerConfig{
		ProtocolTreasury: treasury,
		Fees:             fees,
	}, zerolog.Nop())

	return &harness{ctrl: ctrl, ledger: l, registry: registry, vaults: vaults, settlements: settlements}
}

// fund initializes a vault for owner and deposits amount into custody.
func (h *harness) fund(t *testing.T, o, ref solana.PublicKey, target, amount uint64) *Snapshot {
	t.Helper()
	ctx := context.Background()

	_, err := h.ctrl.Initialize(ctx, InitializeRequest{
		Caller:      o,
		Owner:       o,
		TokenMint:   mint,
		TargetPrice: target,
		Referrer:    ref,
	})
	require.NoError(t, err)

	snap, err := h.ctrl.Deposit(ctx, o, amount)
	require.NoError(t, err)
	return snap
}

// walletBalance returns the balance of wallet's token account in mint, 0 if not opened.
func walletBalance(t *testing.T, l ledger.Ledger, wallet solana.PublicKey) uint64 {
	t.Helper()
	addr, err := ledger.DestinationAccount(wallet, mint)
	require.NoError(t, err)

	bal, err := l.Balance(context.Background(), addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	require.NoError(t, err)
	return bal
}

var errInjected = errors.New("injected failure")

// flakyLedger fails the transfer with index failAt (0-based) across its lifetime.
type flakyLedger struct {
	*ledger.MemoryLedger

	mu        sync.Mutex
	failAt    int
	transfers int
	reversals int
}

func newFlakyLedger(failAt int) *flakyLedger {
	return &flakyLedger{MemoryLedger: ledger.NewMemoryLedger(), failAt: failAt}
}

func (f *flakyLedger) Transfer(ctx context.Context, from solana.PublicKey, t ledger.Transfer, auth ledger.Authorization) (*domain.Receipt, error) {
	f.mu.Lock()
	n := f.transfers
	f.transfers++
	f.mu.Unlock()

	if n == f.failAt {
		return nil, errInjected
	}
	return f.MemoryLedger.Transfer(ctx, from, t, auth)
}

func (f *flakyLedger) Reverse(ctx context.Context, receipt *domain.Receipt, auth ledger.Authorization) error {
	f.mu.Lock()
	f.reversals++
	f.mu.Unlock()
	return f.MemoryLedger.Reverse(ctx, receipt, auth)
}

// batchLedger records that the atomic path was taken.
type batchLedger struct {
	*ledger.MemoryLedger
	batches int
}

func (b *batchLedger) TransferBatch(ctx context.Context, from solana.PublicKey, transfers []ledger.Transfer, auth ledger.Authorization) ([]*domain.Receipt, error) {
	b.batches++
	receipts := make([]*domain.Receipt, 0, len(transfers))
	for _, t := range transfers {
		r, err := b.MemoryLedger.Transfer(ctx, from, t, auth)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

var _ ledger.AtomicLedger = (*batchLedger)(nil)

// failingVaultStore fails every Update.
type failingVaultStore struct {
	*memory.VaultStore
}

func (s failingVaultStore) Update(context.Context, *domain.Vault) error {
	return errInjected
}

// failingInsertStore fails the next Insert once.
type failingInsertStore struct {
	*memory.VaultStore
	fail bool
}

func (s *failingInsertStore) Insert(ctx context.Context, v *domain.Vault) error {
	if s.fail {
		s.fail = false
		return errInjected
	}
	return s.VaultStore.Insert(ctx, v)
}

// failingOpenLedger fails the next OpenAccount once.
type failingOpenLedger struct {
	*ledger.MemoryLedger
	fail bool
}

func (l *failingOpenLedger) OpenAccount(ctx context.Context, acct, authority, mint solana.PublicKey) error {
	if l.fail {
		l.fail = false
		return errInjected
	}
	return l.MemoryLedger.OpenAccount(ctx, acct, authority, mint)
}

// failingSettlementStore fails every Insert.
type failingSettlementStore struct {
	*memory.SettlementStore
}

func (s failingSettlementStore) Insert(context.Context, *domain.Settlement) error {
	return errInjected
}
