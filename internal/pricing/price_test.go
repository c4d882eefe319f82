package pricing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1", 1_000_000},
		{"1.25", 1_250_000},
		{" 0.000001 ", 1},
		{"0", 0},
		{"18446744073709.551615", 18446744073709551615},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, DefaultDecimals)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000001"} {
		_, err := Parse(in, DefaultDecimals)
		assert.True(t, errors.Is(err, ErrInvalidPrice), "input %q: %v", in, err)
	}

	_, err := Parse("18446744073709.551616", DefaultDecimals)
	assert.ErrorIs(t, err, ErrPriceOverflow)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.25", Format(1_250_000, DefaultDecimals))
	assert.Equal(t, "0.000001", Format(1, DefaultDecimals))
	assert.Equal(t, "0", Format(0, DefaultDecimals))
	assert.Equal(t, "42", Format(42, 0))
}
