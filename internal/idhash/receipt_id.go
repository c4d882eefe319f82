package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"autotp/internal/solana"
)

// ComputeReceiptID computes a deterministic receipt_id using SHA256.
// Formula: SHA256(from|to|amount|sequence)
// Returns hex-encoded hash (64 characters).
func ComputeReceiptID(from, to solana.PublicKey, amount, sequence uint64) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		from.String(),
		to.String(),
		amount,
		sequence,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
