package domain

import "autotp/internal/solana"

// Receipt is the ledger's acknowledgement of one applied transfer.
type Receipt struct {
	ReceiptID string           // deterministic hash of (from, to, amount, sequence)
	From      solana.PublicKey // debited account
	To        solana.PublicKey // credited token account
	Recipient solana.PublicKey // wallet owning To
	Mint      solana.PublicKey
	Amount    uint64
	Authority solana.PublicKey // authority that signed the transfer
	Sequence  uint64           // ledger-wide sequence number
	CreatedAt int64            // Unix timestamp in milliseconds
}
