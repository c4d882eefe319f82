package vault

import (
	"autotp/internal/ledger"
	"autotp/internal/solana"
)

// FeePolicy controls how the execute split treats a missing referrer.
// The zero value routes the whole protocol fee to the treasury when the
// vault has no referrer, so nothing is left behind in custody.
// LegacyReferrerLeak restores the older split, where the referrer cut is
// still carved out and retained unpaid.
type FeePolicy struct {
	// LegacyReferrerLeak keeps the notional referrer fee out of the
	// protocol share when there is no referrer. That amount is paid to
	// nobody and stays in the custodial account.
	LegacyReferrerLeak bool
}

// Split is the integer division of a custodial balance on execute.
type Split struct {
	Total         uint64
	ProtocolFee   uint64 // Total / 100
	ReferrerFee   uint64 // ProtocolFee / 10, or 0 without a referrer
	ProtocolShare uint64 // ProtocolFee - ReferrerFee
	UserAmount    uint64 // Total - ProtocolFee
	PayReferrer   bool
}

// Split computes the fee split of total. All division truncates.
func (p FeePolicy) Split(total uint64, hasReferrer bool) Split {
	protocolFee := total / 100
	referrerFee := protocolFee / 10
	if !hasReferrer && !p.LegacyReferrerLeak {
		referrerFee = 0
	}

	return Split{
		Total:         total,
		ProtocolFee:   protocolFee,
		ReferrerFee:   referrerFee,
		ProtocolShare: protocolFee - referrerFee,
		UserAmount:    total - protocolFee,
		PayReferrer:   hasReferrer,
	}
}

// Paid returns the amount that leaves the custodial account.
func (s Split) Paid() uint64 {
	paid := s.ProtocolShare + s.UserAmount
	if s.PayReferrer {
		paid += s.ReferrerFee
	}
	return paid
}

// Retained returns the amount left in custody, non-zero only under
// the legacy referrer leak.
func (s Split) Retained() uint64 {
	return s.Total - s.Paid()
}

// Transfers returns the ordered transfers: referrer (if any), protocol, user.
func (s Split) Transfers(referrer, protocol, user solana.PublicKey) []ledger.Transfer {
	transfers := make([]ledger.Transfer, 0, 3)
	if s.PayReferrer {
		transfers = append(transfers, ledger.Transfer{Recipient: referrer, Amount: s.ReferrerFee})
	}
	transfers = append(transfers,
		ledger.Transfer{Recipient: protocol, Amount: s.ProtocolShare},
		ledger.Transfer{Recipient: user, Amount: s.UserAmount},
	)
	return transfers
}
