package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy_Split(t *testing.T) {
	tests := []struct {
		name        string
		total       uint64
		hasReferrer bool
		legacy      bool
		want        Split
	}{
		{
			name: "with referrer", total: 10_000, hasReferrer: true,
			want: Split{Total: 10_000, ProtocolFee: 100, ReferrerFee: 10, ProtocolShare: 90, UserAmount: 9_900, PayReferrer: true},
		},
		{
			name: "below one percent", total: 99, hasReferrer: true,
			want: Split{Total: 99, ProtocolFee: 0, ReferrerFee: 0, ProtocolShare: 0, UserAmount: 99, PayReferrer: true},
		},
		{
			name: "referrer fee truncates to zero", total: 500, hasReferrer: true,
			want: Split{Total: 500, ProtocolFee: 5, ReferrerFee: 0, ProtocolShare: 5, UserAmount: 495, PayReferrer: true},
		},
		{
			name: "no referrer", total: 10_000,
			want: Split{Total: 10_000, ProtocolFee: 100, ReferrerFee: 0, ProtocolShare: 100, UserAmount: 9_900},
		},
		{
			name: "no referrer legacy leak", total: 10_000, legacy: true,
			want: Split{Total: 10_000, ProtocolFee: 100, ReferrerFee: 10, ProtocolShare: 90, UserAmount: 9_900},
		},
		{
			name: "empty", total: 0, hasReferrer: true,
			want: Split{PayReferrer: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FeePolicy{LegacyReferrerLeak: tt.legacy}.Split(tt.total, tt.hasReferrer)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Conservation(t *testing.T) {
	for _, total := range []uint64{0, 1, 99, 100, 101, 999, 1_000, 123_456_789, 1<<64 - 1} {
		for _, hasReferrer := range []bool{true, false} {
			s := FeePolicy{}.Split(total, hasReferrer)
			assert.Equal(t, total, s.Paid(), "total=%d referrer=%v", total, hasReferrer)
			assert.Zero(t, s.Retained())
			assert.LessOrEqual(t, s.ReferrerFee, s.ProtocolFee)
		}
	}
}

func TestSplit_LegacyLeakRetains(t *testing.T) {
	s := FeePolicy{LegacyReferrerLeak: true}.Split(10_000, false)
	assert.Equal(t, uint64(9_990), s.Paid())
	assert.Equal(t, uint64(10), s.Retained())

	// the leak only applies without a referrer
	s = FeePolicy{LegacyReferrerLeak: true}.Split(10_000, true)
	assert.Zero(t, s.Retained())
}

func TestSplit_Transfers(t *testing.T) {
	s := FeePolicy{}.Split(10_000, true)
	transfers := s.Transfers(referrer, treasury, owner)
	require.Len(t, transfers, 3)
	assert.Equal(t, referrer, transfers[0].Recipient)
	assert.Equal(t, uint64(10), transfers[0].Amount)
	assert.Equal(t, treasury, transfers[1].Recipient)
	assert.Equal(t, uint64(90), transfers[1].Amount)
	assert.Equal(t, owner, transfers[2].Recipient)
	assert.Equal(t, uint64(9_900), transfers[2].Amount)

	s = FeePolicy{}.Split(10_000, false)
	transfers = s.Transfers(referrer, treasury, owner)
	require.Len(t, transfers, 2)
	assert.Equal(t, treasury, transfers[0].Recipient)
	assert.Equal(t, uint64(100), transfers[0].Amount)
}
