package discount

import (
	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/product"
)

// TargetKind names the scope of a sale or promo code.
type TargetKind string

const (
	TargetAll      TargetKind = "all"
	TargetProduct  TargetKind = "product"
	TargetCategory TargetKind = "category"
)

var ErrInvalidTarget = apperr.Validation("invalid discount target")

// Target is the set of products a rule applies to. The zero value targets
// every product. A product or category target always carries an id.
type Target struct {
	kind TargetKind
	id   string
}

// All targets every product.
func All() Target { return Target{kind: TargetAll} }

// ForProduct targets a single product.
func ForProduct(id string) Target { return Target{kind: TargetProduct, id: id} }

// ForCategory targets every product in a category.
func ForCategory(id string) Target { return Target{kind: TargetCategory, id: id} }

// ParseTarget builds a Target from its stored discriminator and nullable id.
func ParseTarget(kind string, id *string) (Target, error) {
	switch TargetKind(kind) {
	case TargetAll, "":
		if id != nil && *id != "" {
			return Target{}, ErrInvalidTarget
		}
		return All(), nil
	case TargetProduct, TargetCategory:
		if id == nil || *id == "" {
			return Target{}, ErrInvalidTarget
		}
		return Target{kind: TargetKind(kind), id: *id}, nil
	default:
		return Target{}, ErrInvalidTarget
	}
}

// Kind returns the target discriminator.
func (t Target) Kind() TargetKind {
	if t.kind == "" {
		return TargetAll
	}
	return t.kind
}

// ID returns the product or category id. It is empty for TargetAll.
func (t Target) ID() string { return t.id }

// Matches reports whether p falls within the target.
func (t Target) Matches(p product.Product) bool {
	switch t.Kind() {
	case TargetProduct:
		return p.ID == t.id
	case TargetCategory:
		return p.InCategory(t.id)
	default:
		return true
	}
}
