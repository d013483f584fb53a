package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FromX18 parses an integer string scaled by 1e18 into a decimal.
func FromX18(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty x18 value", ErrMalformed)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: x18 %q: %v", ErrMalformed, s, err)
	}
	return d.Shift(-18), nil
}

// FromX18OrZero is FromX18 for fields where a bad value means "absent".
func FromX18OrZero(s string) decimal.Decimal {
	d, err := FromX18(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ToX18 scales d by 1e18, truncating any remaining fraction toward zero.
func ToX18(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

// X18String is the wire form of ToX18.
func X18String(d decimal.Decimal) string {
	return ToX18(d).String()
}

// RoundToTick quantizes price to the nearest multiple of tick using
// banker's rounding. A non-positive tick leaves price unchanged.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).RoundBank(0).Mul(tick)
}
