// Package keeper watches a price feed, records prices on vaults and executes
// those whose target has been reached.
package keeper

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"autotp/internal/domain"
	"autotp/internal/observability"
	"autotp/internal/pricefeed"
	"autotp/internal/solana"
	"autotp/internal/vault"
)

// Vaults is the slice of the lifecycle controller the keeper drives.
type Vaults interface {
	VaultsByMint(ctx context.Context, mint solana.PublicKey) ([]*domain.Vault, error)
	RecordPrice(ctx context.Context, owner solana.PublicKey, price uint64) (*domain.Vault, error)
	Get(ctx context.Context, owner solana.PublicKey) (*vault.Snapshot, error)
	Execute(ctx context.Context, req vault.ExecuteRequest) (*vault.ExecuteResult, error)
}

// Keeper status labels for metrics.
const (
	statusExecuted   = "executed"
	statusNotReached = "not_reached"
	statusFailed     = "failed"
)

// Keeper consumes price updates for a fixed set of mints.
type Keeper struct {
	source   pricefeed.Source
	vaults   Vaults
	identity solana.PublicKey
	mints    []solana.PublicKey
	logger   zerolog.Logger

	lastSeen map[solana.PublicKey]int64
}

// New creates a keeper that executes as identity.
func New(source pricefeed.Source, vaults Vaults, identity solana.PublicKey, mints []solana.PublicKey, logger zerolog.Logger) *Keeper {
	return &Keeper{
		source:   source,
		vaults:   vaults,
		identity: identity,
		mints:    mints,
		logger:   logger.With().Str("component", "keeper").Logger(),
		lastSeen: make(map[solana.PublicKey]int64),
	}
}

// Run subscribes to the feed and processes updates until ctx is done or the
// feed closes.
func (k *Keeper) Run(ctx context.Context) error {
	updates, err := k.source.Subscribe(ctx, k.mints)
	if err != nil {
		return err
	}
	k.logger.Info().Int("mints", len(k.mints)).Msg("keeper subscribed")

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("keeper stopping")
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				return errors.New("price feed closed")
			}
			k.Handle(ctx, u)
		}
	}
}

// Handle applies one update. Updates older than the last one seen for the
// mint are dropped. Per-vault failures are logged and do not stop the rest.
func (k *Keeper) Handle(ctx context.Context, u pricefeed.Update) {
	if last, ok := k.lastSeen[u.Mint]; ok && u.Timestamp < last {
		k.logger.Debug().Str("mint", u.Mint.String()).Int64("ts", u.Timestamp).Msg("stale price dropped")
		return
	}
	k.lastSeen[u.Mint] = u.Timestamp
	observability.RecordPriceUpdate(u.Mint.String())

	vaults, err := k.vaults.VaultsByMint(ctx, u.Mint)
	if err != nil {
		k.logger.Error().Err(err).Str("mint", u.Mint.String()).Msg("list vaults failed")
		return
	}

	for _, v := range vaults {
		k.process(ctx, v.Owner, u.Price)
	}
}

func (k *Keeper) process(ctx context.Context, owner solana.PublicKey, price uint64) {
	log := k.logger.With().Str("owner", owner.String()).Uint64("price", price).Logger()

	v, err := k.vaults.RecordPrice(ctx, owner, price)
	if err != nil {
		log.Error().Err(err).Msg("record price failed")
		return
	}
	if !v.TargetReached(price) {
		return
	}

	snap, err := k.vaults.Get(ctx, owner)
	if err != nil {
		log.Error().Err(err).Msg("read vault failed")
		return
	}
	if snap.Balance == 0 {
		return
	}

	res, err := k.vaults.Execute(ctx, vault.ExecuteRequest{
		Caller:        k.identity,
		Owner:         owner,
		ObservedPrice: price,
	})
	switch {
	case errors.Is(err, vault.ErrTargetNotReached):
		observability.RecordKeeperExecution(statusNotReached)
	case err != nil:
		observability.RecordKeeperExecution(statusFailed)
		log.Error().Err(err).Msg("keeper execute failed")
	default:
		observability.RecordKeeperExecution(statusExecuted)
		log.Info().
			Str("vault", res.Vault.Address.String()).
			Uint64("total", res.Split.Total).
			Msg("keeper executed vault")
	}
}
