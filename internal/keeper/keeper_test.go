package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotp/internal/ledger"
	"autotp/internal/pricefeed"
	"autotp/internal/solana"
	"autotp/internal/storage/memory"
	"autotp/internal/vault"
)

var programID = solana.MustParsePublicKey("4zNsNcDNWFJUPhpBF2j6ZBA4f6arEHn3hEx1osH6Hvkq")

func key(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0], pk[31] = b, b
	return pk
}

var (
	mint     = key(1)
	treasury = key(2)
	keeperID = key(3)
	ownerA   = key(10)
	ownerB   = key(11)
)

type fakeSource struct {
	ch         chan pricefeed.Update
	subscribed []solana.PublicKey
	err        error
}

func (f *fakeSource) Subscribe(_ context.Context, mints []solana.PublicKey) (<-chan pricefeed.Update, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subscribed = append(f.subscribed, mints...)
	return f.ch, nil
}

func (f *fakeSource) Close() error {
	close(f.ch)
	return nil
}

func setup(t *testing.T) (*vault.Controller, *ledger.MemoryLedger) {
	t.Helper()
	ctx := context.Background()

	l := ledger.NewMemoryLedger()
	ctrl := vault.NewController(
		vault.NewRegistry(programID, memory.NewVaultStore()), l, nil,
		vault.ControllerConfig{ProtocolTreasury: treasury}, zerolog.Nop(),
	)

	for owner, target := range map[solana.PublicKey]uint64{ownerA: 100, ownerB: 200} {
		_, err := ctrl.Initialize(ctx, vault.InitializeRequest{Caller: owner, Owner: owner, TokenMint: mint, TargetPrice: target})
		require.NoError(t, err)
		_, err = ctrl.Deposit(ctx, owner, 1_000)
		require.NoError(t, err)
	}
	return ctrl, l
}

func balance(t *testing.T, ctrl *vault.Controller, owner solana.PublicKey) uint64 {
	t.Helper()
	snap, err := ctrl.Get(context.Background(), owner)
	require.NoError(t, err)
	return snap.Balance
}

func TestKeeper_ExecutesOnlyReachedTargets(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := setup(t)
	k := New(&fakeSource{}, ctrl, keeperID, []solana.PublicKey{mint}, zerolog.Nop())

	k.Handle(ctx, pricefeed.Update{Mint: mint, Price: 150, Timestamp: 1})

	assert.Zero(t, balance(t, ctrl, ownerA), "target 100 reached at 150")
	assert.Equal(t, uint64(1_000), balance(t, ctrl, ownerB), "target 200 not reached")

	snap, err := ctrl.Get(ctx, ownerB)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), snap.Vault.CurrentPrice, "price recorded on every vault of the mint")

	k.Handle(ctx, pricefeed.Update{Mint: mint, Price: 200, Timestamp: 2})
	assert.Zero(t, balance(t, ctrl, ownerB), "inclusive target")
}

func TestKeeper_DropsStaleUpdates(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := setup(t)
	k := New(&fakeSource{}, ctrl, keeperID, []solana.PublicKey{mint}, zerolog.Nop())

	k.Handle(ctx, pricefeed.Update{Mint: mint, Price: 50, Timestamp: 10})
	k.Handle(ctx, pricefeed.Update{Mint: mint, Price: 500, Timestamp: 9})

	assert.Equal(t, uint64(1_000), balance(t, ctrl, ownerA))
	snap, err := ctrl.Get(ctx, ownerA)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), snap.Vault.CurrentPrice)
}

func TestKeeper_IgnoresOtherMints(t *testing.T) {
	ctx := context.Background()
	ctrl, _ := setup(t)
	k := New(&fakeSource{}, ctrl, keeperID, []solana.PublicKey{mint}, zerolog.Nop())

	k.Handle(ctx, pricefeed.Update{Mint: key(99), Price: 1_000, Timestamp: 1})
	assert.Equal(t, uint64(1_000), balance(t, ctrl, ownerA))
}

func TestKeeper_Run(t *testing.T) {
	ctrl, _ := setup(t)
	src := &fakeSource{ch: make(chan pricefeed.Update, 1)}
	k := New(src, ctrl, keeperID, []solana.PublicKey{mint}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	src.ch <- pricefeed.Update{Mint: mint, Price: 1_000, Timestamp: 1}

	drained := func(owner solana.PublicKey) bool {
		snap, err := ctrl.Get(context.Background(), owner)
		return err == nil && snap.Balance == 0
	}
	require.Eventually(t, func() bool {
		return drained(ownerA) && drained(ownerB)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []solana.PublicKey{mint}, src.subscribed)

	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.EqualError(t, err, "price feed closed")
	case <-time.After(2 * time.Second):
		t.Fatal("keeper did not stop after feed closed")
	}
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	ctrl, _ := setup(t)
	src := &fakeSource{ch: make(chan pricefeed.Update)}
	k := New(src, ctrl, keeperID, []solana.PublicKey{mint}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, k.Run(ctx), context.Canceled)
}

func TestKeeper_SubscribeError(t *testing.T) {
	ctrl, _ := setup(t)
	boom := errors.New("dial failed")
	k := New(&fakeSource{err: boom}, ctrl, keeperID, nil, zerolog.Nop())

	assert.ErrorIs(t, k.Run(context.Background()), boom)
}
