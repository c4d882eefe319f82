// Package pricefeed delivers external price observations to the keeper.
package pricefeed

import (
	"context"

	"autotp/internal/solana"
)

// Update is a single price observation for a mint, in fixed-point base units.
type Update struct {
	Mint      solana.PublicKey
	Price     uint64
	Timestamp int64 // Unix milliseconds as reported by the feed
}

// Source delivers price updates for a set of mints.
type Source interface {
	// Subscribe adds mints to the subscription and returns the update channel.
	// Every call returns the same channel; it is closed by Close.
	Subscribe(ctx context.Context, mints []solana.PublicKey) (<-chan Update, error)

	// Close terminates the feed.
	Close() error
}
