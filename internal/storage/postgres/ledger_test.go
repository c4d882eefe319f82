package postgres

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotp/internal/ledger"
	"autotp/internal/solana"
)

type testAuth struct {
	authority solana.PublicKey
	account   solana.PublicKey
}

func (a testAuth) Authority() solana.PublicKey { return a.authority }
func (a testAuth) Account() solana.PublicKey   { return a.account }
func (a testAuth) Scope() ledger.Scope         { return ledger.ScopeTransfer }

var (
	custody  = key(1)
	vaultKey = key(2)
	mint     = key(3)
	owner    = key(4)
	treasury = key(5)
)

func openCustody(t *testing.T, l *Ledger, balance uint64) testAuth {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, l.OpenAccount(ctx, custody, vaultKey, mint))
	require.NoError(t, l.Deposit(ctx, custody, balance))
	return testAuth{authority: vaultKey, account: custody}
}

func balanceOf(t *testing.T, l *Ledger, wallet solana.PublicKey) uint64 {
	t.Helper()
	addr, err := ledger.DestinationAccount(wallet, mint)
	require.NoError(t, err)
	bal, err := l.Balance(context.Background(), addr)
	require.NoError(t, err)
	return bal
}

func TestLedger_OpenAccount(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)

	require.NoError(t, l.OpenAccount(ctx, custody, vaultKey, mint))
	require.NoError(t, l.OpenAccount(ctx, custody, vaultKey, mint))
	assert.ErrorIs(t, l.OpenAccount(ctx, custody, owner, mint), ledger.ErrAccountExists)

	_, err := l.Balance(ctx, key(77))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	require.NoError(t, l.Deposit(ctx, custody, math.MaxUint64))
	assert.ErrorIs(t, l.Deposit(ctx, custody, 1), ledger.ErrOverflow)
}

func TestLedger_TransferBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	auth := openCustody(t, l, 10_000)

	receipts, err := l.TransferBatch(ctx, custody, []ledger.Transfer{
		{Recipient: treasury, Amount: 100},
		{Recipient: owner, Amount: 9_900},
	}, auth)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Less(t, receipts[0].Sequence, receipts[1].Sequence)

	assert.Equal(t, uint64(100), balanceOf(t, l, treasury))
	assert.Equal(t, uint64(9_900), balanceOf(t, l, owner))
	bal, err := l.Balance(ctx, custody)
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestLedger_TransferBatchAllOrNothing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	auth := openCustody(t, l, 1_000)

	_, err := l.TransferBatch(ctx, custody, []ledger.Transfer{
		{Recipient: treasury, Amount: 500},
		{Recipient: owner, Amount: 501},
	}, auth)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	bal, err := l.Balance(ctx, custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)

	addr, err := ledger.DestinationAccount(treasury, mint)
	require.NoError(t, err)
	_, err = l.Balance(ctx, addr)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound, "rolled back account creation")
}

func TestLedger_MissingAccountNamesAddress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)

	err := l.Deposit(ctx, key(77), 1)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.ErrorContains(t, err, key(77).String())

	_, err = l.Transfer(ctx, key(78), ledger.Transfer{Recipient: owner, Amount: 1}, testAuth{authority: vaultKey, account: key(78)})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.ErrorContains(t, err, key(78).String())
}

func TestLedger_CrossReferredBatchesDoNotDeadlock(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)

	// each vault names the other vault's owner as referrer
	ownerA, ownerB := key(10), key(11)
	custodyA, custodyB := key(12), key(13)
	authA := testAuth{authority: key(14), account: custodyA}
	authB := testAuth{authority: key(15), account: custodyB}
	for _, a := range []testAuth{authA, authB} {
		require.NoError(t, l.OpenAccount(ctx, a.account, a.authority, mint))
		require.NoError(t, l.Deposit(ctx, a.account, 20_000))
	}

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.TransferBatch(ctx, custodyA, []ledger.Transfer{
				{Recipient: ownerB, Amount: 1},
				{Recipient: treasury, Amount: 9},
				{Recipient: ownerA, Amount: 990},
			}, authA)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := l.TransferBatch(ctx, custodyB, []ledger.Transfer{
				{Recipient: ownerA, Amount: 1},
				{Recipient: treasury, Amount: 9},
				{Recipient: ownerB, Amount: 990},
			}, authB)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(rounds*991), balanceOf(t, l, ownerA))
	assert.Equal(t, uint64(rounds*991), balanceOf(t, l, ownerB))
	assert.Equal(t, uint64(2*rounds*9), balanceOf(t, l, treasury))
}

func TestLedger_Unauthorized(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	openCustody(t, l, 1_000)

	_, err := l.Transfer(ctx, custody, ledger.Transfer{Recipient: owner, Amount: 1}, testAuth{authority: owner, account: custody})
	assert.ErrorIs(t, err, ledger.ErrUnauthorizedTransfer)
}

func TestLedger_Reverse(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	l := NewLedger(pool)
	auth := openCustody(t, l, 1_000)

	receipt, err := l.Transfer(ctx, custody, ledger.Transfer{Recipient: owner, Amount: 400}, auth)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), balanceOf(t, l, owner))

	require.NoError(t, l.Reverse(ctx, receipt, auth))
	assert.Zero(t, balanceOf(t, l, owner))
	bal, err := l.Balance(ctx, custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), bal)

	assert.ErrorIs(t, l.Reverse(ctx, receipt, auth), ledger.ErrAlreadyReversed)
}
