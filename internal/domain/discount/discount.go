// Package discount implements the percent/fixed price reduction shared by
// sales and promo codes.
package discount

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

// Type is the kind of reduction a rule applies.
type Type string

const (
	Percentage Type = "percentage"
	Fixed      Type = "fixed"
)

var (
	ErrUnsupportedType = apperr.Validation("unsupported discount type")
	ErrNegativeValue   = apperr.Validation("discount value must not be negative")
	ErrPercentRange    = apperr.Validation("percentage discount must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

// ParseType accepts the stored spellings of a discount type. Promo codes
// historically store "percent", sales store "percentage".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "percentage", "percent":
		return Percentage, nil
	case "fixed":
		return Fixed, nil
	default:
		return "", ErrUnsupportedType
	}
}

// Rule is a single reduction. MaxAmount caps percentage reductions only.
type Rule struct {
	Type      Type
	Value     decimal.Decimal
	MaxAmount decimal.NullDecimal
}

// Validate checks the rule's value against its type.
func (r Rule) Validate() error {
	if r.Value.IsNegative() {
		return ErrNegativeValue
	}
	switch r.Type {
	case Percentage:
		if r.Value.GreaterThan(hundred) {
			return ErrPercentRange
		}
	case Fixed:
	default:
		return ErrUnsupportedType
	}
	return nil
}

// Amount returns how much the rule takes off price. The result is rounded to
// two decimal places and never exceeds price.
func (r Rule) Amount(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch r.Type {
	case Percentage:
		amount = price.Mul(r.Value).Div(hundred)
		if r.MaxAmount.Valid && amount.GreaterThan(r.MaxAmount.Decimal) {
			amount = r.MaxAmount.Decimal
		}
	case Fixed:
		amount = r.Value
	default:
		return decimal.Zero
	}

	amount = decimal.Min(floorAtZero(amount), price)
	return amount.Round(2)
}

// Apply returns price after the reduction, clamped at zero.
func (r Rule) Apply(price decimal.Decimal) decimal.Decimal {
	return floorAtZero(price.Sub(r.Amount(price)))
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
