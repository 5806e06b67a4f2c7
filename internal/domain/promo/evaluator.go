package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

// Result is the outcome of a successful validation.
type Result struct {
	Code             *Code
	ApplicableAmount decimal.Decimal
	Discount         decimal.Decimal
}

// Evaluator validates promo codes. Validate has no side effects; Redeem is
// called once, inside the checkout transaction.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// Validate checks code against the post-sale cartTotal and priced lines and
// computes its discount.
func (e *Evaluator) Validate(ctx context.Context, code string, cartTotal decimal.Decimal, lines []Line) (*Result, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, ErrCodeRequired
	}

	c, err := e.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}

	if err := c.CheckUsable(e.now()); err != nil {
		return nil, err
	}

	if !c.MeetsMinimumPurchase(cartTotal) {
		return nil, &apperr.Error{
			Kind:    apperr.KindValidation,
			Message: "minimum purchase amount is " + c.MinPurchase.Decimal.StringFixed(2),
			Err:     ErrBelowMinimum,
		}
	}

	applicable := c.ApplicableAmount(cartTotal, lines)
	return &Result{
		Code:             c,
		ApplicableAmount: applicable,
		Discount:         c.Discount.Amount(applicable),
	}, nil
}

// Redeem records one use of the code.
func (e *Evaluator) Redeem(ctx context.Context, c *Code) error {
	if err := e.repo.IncrementUses(ctx, c.ID); err != nil {
		if errors.Is(err, ErrUsageLimitReached) {
			return ErrUsageLimitReached
		}
		return errors.Wrap(err, "increment promo code uses")
	}
	c.TimesUsed++
	return nil
}
