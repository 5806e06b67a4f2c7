// Package promo validates promo codes against a priced cart and redeems
// them when checkout commits.
package promo

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/product"
)

var (
	ErrCodeRequired      = apperr.Validation("promo code is required")
	ErrNotFound          = apperr.NotFound("promo code not found")
	ErrInactive          = apperr.Validation("promo code is not active")
	ErrExpired           = apperr.Validation("promo code has expired")
	ErrUsageLimitReached = apperr.Conflict("promo code usage limit reached")
	ErrBelowMinimum      = apperr.Validation("cart total is below the promo code minimum")
	ErrDuplicateCode     = apperr.Conflict("promo code already exists")
)

// Code is a single-use-per-checkout promo code. Code.Code is stored
// upper-cased and looked up case-insensitively.
type Code struct {
	ID          string
	Code        string
	Description string
	Discount    discount.Rule
	Applicable  discount.Target
	MinPurchase decimal.NullDecimal
	ExpiresAt   *time.Time
	// UsageLimit is the total number of redemptions allowed; nil is unlimited.
	UsageLimit *int
	TimesUsed  int
	Active     bool
	CreatedAt  time.Time
}

// Normalize returns the canonical stored form of a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a code definition before it is stored.
func (c *Code) Validate() error {
	if Normalize(c.Code) == "" {
		return ErrCodeRequired
	}
	if c.Discount.MaxAmount.Valid {
		return apperr.Validation("promo codes do not support a maximum discount")
	}
	if err := c.Discount.Validate(); err != nil {
		return err
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return apperr.Validation("usage limit must not be negative")
	}
	return nil
}

// CheckUsable returns the reason the code cannot be used at now, or nil.
func (c *Code) CheckUsable(now time.Time) error {
	if !c.Active {
		return ErrInactive
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	return nil
}

// MeetsMinimumPurchase reports whether cartTotal satisfies the minimum.
func (c *Code) MeetsMinimumPurchase(cartTotal decimal.Decimal) bool {
	if !c.MinPurchase.Valid {
		return true
	}
	return cartTotal.GreaterThanOrEqual(c.MinPurchase.Decimal)
}

// Line is a priced cart line. UnitPrice is the post-sale price.
type Line struct {
	Product   product.Product
	UnitPrice decimal.Decimal
	Quantity  int
}

// ApplicableAmount returns the part of the cart the code discounts. For an
// all-products code it is the post-sale cart total; otherwise only matching
// lines count.
func (c *Code) ApplicableAmount(cartTotal decimal.Decimal, lines []Line) decimal.Decimal {
	if c.Applicable.Kind() == discount.TargetAll {
		return cartTotal
	}
	sum := decimal.Zero
	for _, l := range lines {
		if c.Applicable.Matches(l.Product) {
			sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
	}
	return sum
}

// Repository provides lookup and mutation of promo codes.
type Repository interface {
	// FindByCode looks a code up by its normalized form. It returns
	// ErrNotFound when no such code exists.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// IncrementUses adds one redemption. It returns ErrUsageLimitReached
	// when the limit was exhausted concurrently.
	IncrementUses(ctx context.Context, id string) error
	// Create stores a new code, returning ErrDuplicateCode on conflict.
	Create(ctx context.Context, c *Code) error
}
