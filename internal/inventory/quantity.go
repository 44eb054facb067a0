package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of decimal places every quantity column keeps.
const QuantityScale = 3

// MaxQuantity is the first magnitude a NUMERIC(14,3) column cannot hold.
var MaxQuantity = decimal.New(1, 14-QuantityScale)

// CheckQuantity rejects values the quantity columns would round or overflow.
func CheckQuantity(q decimal.Decimal) error {
	if !q.Equal(q.Truncate(QuantityScale)) {
		return fmt.Errorf("%s has more than %d decimal places: %w", q, QuantityScale, ErrInvalidQuantity)
	}
	if q.Abs().GreaterThanOrEqual(MaxQuantity) {
		return fmt.Errorf("%s is out of range: %w", q, ErrInvalidQuantity)
	}
	return nil
}

func checkPositive(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%s is not positive: %w", q, ErrInvalidQuantity)
	}
	return CheckQuantity(q)
}
