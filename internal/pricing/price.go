// Package pricing converts between human-readable decimal prices and the
// fixed-point u64 representation stored on vaults.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the fixed-point scale used for target and observed prices.
const DefaultDecimals int32 = 6

// MaxDecimals bounds the scale; 10^19 no longer fits in u64.
const MaxDecimals int32 = 18

var (
	// ErrInvalidPrice is returned for malformed, negative or over-precise prices.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrPriceOverflow is returned when a scaled price does not fit in u64.
	ErrPriceOverflow = errors.New("price overflows u64")
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Parse converts a decimal string such as "1.25" to base units at the given scale.
func Parse(s string, decimals int32) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidPrice, s)
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidPrice, s, decimals)
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("%w: %q", ErrPriceOverflow, s)
	}

	return scaled.BigInt().Uint64(), nil
}

// Format renders base units at the given scale without trailing zeros.
func Format(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
}
