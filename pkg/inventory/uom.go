package inventory

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultRounding is used when a unit carries no rounding
var defaultRounding = decimal.New(1, -2)

func (u UoM) rounding() decimal.Decimal {
	if u.Rounding.Sign() <= 0 {
		return defaultRounding
	}
	return u.Rounding
}

// Round rounds a quantity half-up to the unit's rounding step
// 計量単位の丸め単位で数量を丸める
func (u UoM) Round(q decimal.Decimal) decimal.Decimal {
	r := u.rounding()
	return q.Div(r).Round(0).Mul(r)
}

// Compare compares two quantities at the unit's rounding.
// It returns -1, 0 or 1.
// 丸め単位で2つの数量を比較する
func (u UoM) Compare(a, b decimal.Decimal) int {
	return u.Round(a.Sub(b)).Sign()
}

// IsZero reports whether q rounds to zero
func (u UoM) IsZero(q decimal.Decimal) bool {
	return u.Round(q).IsZero()
}

// Decimals returns the number of decimals implied by the rounding step
// 丸め単位から小数桁数を求める
func (u UoM) Decimals() int32 {
	// String は末尾の0を落とすので 0.010 と 0.01 は同じ桁数になる
	s := u.rounding().String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

// minDecimal returns the smaller of two decimals
func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// maxDecimal returns the larger of two decimals
func maxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
