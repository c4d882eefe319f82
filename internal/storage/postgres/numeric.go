package postgres

import (
	"fmt"
	"math"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// numeric encodes v as NUMERIC(20,0).
func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Exp: 0, Valid: true}
}

// fromNumeric decodes a NUMERIC column holding a u64.
func fromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.Int == nil {
		return 0, fmt.Errorf("numeric is null")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return 0, fmt.Errorf("numeric is not finite")
	}

	d := decimal.NewFromBigInt(n.Int, n.Exp)
	if !d.IsInteger() || d.IsNegative() || d.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("numeric %s out of u64 range", d.String())
	}
	return d.BigInt().Uint64(), nil
}
