// Package referral aggregates what referrers have earned from vault settlements.
package referral

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"net/url"
	"strings"

	"autotp/internal/domain"
	"autotp/internal/solana"
	"autotp/internal/storage"
)

// VaultLister lists vaults naming a referrer.
type VaultLister interface {
	ListByReferrer(ctx context.Context, referrer solana.PublicKey) ([]*domain.Vault, error)
}

// Stats summarizes one referrer.
type Stats struct {
	Referrer          solana.PublicKey
	TotalReferrals    int               // vaults naming the referrer
	ExecutedReferrals int               // executes that paid the referrer
	EarningsByMint    map[string]uint64 // base units per mint address
}

// Service computes referral stats from the registry and settlement journal.
type Service struct {
	vaults      VaultLister
	settlements storage.SettlementStore
}

// NewService creates a Service. settlements may be nil, in which case only
// referral counts are reported.
func NewService(vaults VaultLister, settlements storage.SettlementStore) *Service {
	return &Service{vaults: vaults, settlements: settlements}
}

// Stats returns the stats of referrer. A referrer with no vaults has zero stats.
func (s *Service) Stats(ctx context.Context, referrer solana.PublicKey) (*Stats, error) {
	if referrer.IsZero() {
		return nil, fmt.Errorf("referrer is the zero key: %w", storage.ErrInvalidInput)
	}

	vaults, err := s.vaults.ListByReferrer(ctx, referrer)
	if err != nil {
		return nil, fmt.Errorf("referral stats: %w", err)
	}

	stats := &Stats{
		Referrer:       referrer,
		TotalReferrals: len(vaults),
		EarningsByMint: make(map[string]uint64),
	}
	if s.settlements == nil {
		return stats, nil
	}

	settlements, err := s.settlements.GetByReferrer(ctx, referrer)
	if err != nil {
		return nil, fmt.Errorf("referral stats: %w", err)
	}
	for _, st := range settlements {
		if st.Kind != domain.SettlementExecute || !st.ReferrerPaid {
			continue
		}
		stats.ExecutedReferrals++
		mint := st.TokenMint.String()
		stats.EarningsByMint[mint] = saturatingAdd(stats.EarningsByMint[mint], st.ReferrerFee)
	}
	return stats, nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// LinkParam is the query parameter carrying the referrer in a referral link.
const LinkParam = "ref"

// Link returns baseURL with the referrer attached as ?ref=<address>.
func Link(baseURL string, referrer solana.PublicKey) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	q := u.Query()
	q.Set(LinkParam, referrer.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromLink extracts the referrer from a referral link. It returns ZeroKey
// when the link carries none.
func FromLink(link string) (solana.PublicKey, error) {
	u, err := url.Parse(link)
	if err != nil {
		return solana.ZeroKey, fmt.Errorf("parse referral link: %w", err)
	}
	ref := u.Query().Get(LinkParam)
	if ref == "" {
		return solana.ZeroKey, nil
	}
	return solana.ParsePublicKey(ref)
}
