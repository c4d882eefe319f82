package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"autotp/internal/domain"
	"autotp/internal/solana"
)

// ComputeSettlementID computes a deterministic settlement_id using SHA256.
// Formula: SHA256(vault|kind|total|settled_at|first_receipt_id)
// The first receipt id makes repeated zero-balance settlements in the same
// millisecond distinct.
func ComputeSettlementID(
	vault solana.PublicKey,
	kind domain.SettlementKind,
	total uint64,
	settledAt int64,
	firstReceiptID string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s",
		vault.String(),
		string(kind),
		total,
		settledAt,
		firstReceiptID,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
