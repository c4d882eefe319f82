package domain

import "autotp/internal/solana"

// SettlementKind identifies the terminal path taken by a vault request.
type SettlementKind string

const (
	SettlementCancel  SettlementKind = "CANCEL"
	SettlementExecute SettlementKind = "EXECUTE"
)

// String returns the string representation of SettlementKind.
func (k SettlementKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a valid value.
func (k SettlementKind) IsValid() bool {
	return k == SettlementCancel || k == SettlementExecute
}

// Settlement records one successful cancel or execute.
// Corresponds to the vault_settlements table in ClickHouse.
type Settlement struct {
	SettlementID  string           // PRIMARY KEY, deterministic hash
	Vault         solana.PublicKey // vault address
	Owner         solana.PublicKey
	TokenMint     solana.PublicKey
	Referrer      solana.PublicKey // ZeroKey when none
	Kind          SettlementKind   // CANCEL | EXECUTE
	Price         uint64           // price used for the gate (0 for cancel)
	Total         uint64           // custodial balance at settlement
	ProtocolFee   uint64
	ReferrerFee   uint64 // fee owed to the referrer under the fee policy
	ProtocolShare uint64
	UserAmount    uint64
	ReferrerPaid  bool             // referrer transfer was made
	ExecutedBy    solana.PublicKey // caller identity
	SettledAt     int64            // Unix timestamp in milliseconds
}
