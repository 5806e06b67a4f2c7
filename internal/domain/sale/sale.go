// Package sale selects the best active sale for a product.
package sale

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/discount"
)

// Sale is an admin-defined price reduction. Whether a sale is active is
// computed from Enabled and the date window, never stored.
type Sale struct {
	ID        string
	Title     string
	BadgeText string
	Target    discount.Target
	Discount  discount.Rule
	StartDate *time.Time
	EndDate   *time.Time
	Enabled   bool
	Priority  int
	CreatedAt time.Time
}

// IsActive reports whether the sale applies at now. Open-ended bounds are
// unbounded on that side.
func (s *Sale) IsActive(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.StartDate != nil && s.StartDate.After(now) {
		return false
	}
	if s.EndDate != nil && s.EndDate.Before(now) {
		return false
	}
	return true
}

// DiscountedPrice returns price after the sale, clamped at zero.
func (s *Sale) DiscountedPrice(price decimal.Decimal) decimal.Decimal {
	return s.Discount.Apply(price)
}

// DiscountAmount returns how much the sale takes off price.
func (s *Sale) DiscountAmount(price decimal.Decimal) decimal.Decimal {
	return price.Sub(s.DiscountedPrice(price))
}

// Repository reads sales.
type Repository interface {
	// ListActive returns sales whose enabled flag and date window hold at
	// now, ordered by priority DESC, created_at DESC.
	ListActive(ctx context.Context, now time.Time) ([]Sale, error)
}
