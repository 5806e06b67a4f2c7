package product

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = apperr.NotFound("product not found")

// Product is the catalog read model used for pricing. Price is read at
// checkout time and frozen into the order line.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	CategoryIDs []string
}

// InCategory reports whether the product belongs to the given category.
func (p Product) InCategory(categoryID string) bool {
	return slices.Contains(p.CategoryIDs, categoryID)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	// GetByIDs returns the products that exist among ids, in no particular
	// order. Missing ids are silently skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
