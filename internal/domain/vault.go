package domain

import "autotp/internal/solana"

// Vault is the persistent record of one take-profit order.
// Corresponds to the vaults table in PostgreSQL and the 113-byte on-chain record.
type Vault struct {
	Address           solana.PublicKey // derived from ("vault", owner); not part of the record body
	Bump              uint8            // bump seed of Address
	Owner             solana.PublicKey // immutable
	TokenMint         solana.PublicKey // immutable
	TargetPrice       uint64           // execute allowed when price >= target
	Referrer          solana.PublicKey // ZeroKey means no referrer
	CurrentPrice      uint64           // last recorded price snapshot
	ReadyForExecution bool             // never set true; reset on execute
}

// HasReferrer reports whether the vault names a referrer.
func (v *Vault) HasReferrer() bool {
	return !v.Referrer.IsZero()
}

// TargetReached reports whether price satisfies the inclusive target.
func (v *Vault) TargetReached(price uint64) bool {
	return price >= v.TargetPrice
}
