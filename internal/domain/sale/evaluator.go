package sale

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/product"
)

// Quote is the sale price of one product.
type Quote struct {
	ProductID     string
	OriginalPrice decimal.Decimal
	FinalPrice    decimal.Decimal
	Discount      decimal.Decimal
	// Sale is nil when no active sale reduces the price.
	Sale *Sale
}

// Evaluator finds the best sale for products. It is the only place that
// implements best-sale selection; checkout and the price endpoints share it.
type Evaluator struct {
	repo Repository
	now  func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given Repository.
func NewEvaluator(repo Repository) *Evaluator {
	return &Evaluator{repo: repo, now: time.Now}
}

// FindActiveSales returns the active sales applicable to p, ordered by
// priority DESC then createdAt DESC.
func (e *Evaluator) FindActiveSales(ctx context.Context, p product.Product) ([]Sale, error) {
	now := e.now()
	all, err := e.repo.ListActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active sales")
	}
	return applicable(all, p, now), nil
}

// BestSale returns the applicable sale with the strictly greatest discount
// on p's price, or nil when none reduces it.
func (e *Evaluator) BestSale(ctx context.Context, p product.Product) (*Sale, error) {
	sales, err := e.FindActiveSales(ctx, p)
	if err != nil {
		return nil, err
	}
	return best(sales, p.Price), nil
}

// Quote prices a single product.
func (e *Evaluator) Quote(ctx context.Context, p product.Product) (Quote, error) {
	quotes, err := e.QuoteAll(ctx, []product.Product{p})
	if err != nil {
		return Quote{}, err
	}
	return quotes[0], nil
}

// QuoteAll prices every product against one snapshot of active sales. The
// result is index-aligned with products.
func (e *Evaluator) QuoteAll(ctx context.Context, products []product.Product) ([]Quote, error) {
	now := e.now()
	all, err := e.repo.ListActive(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active sales")
	}

	quotes := make([]Quote, len(products))
	for i, p := range products {
		quotes[i] = quote(p, best(applicable(all, p, now), p.Price))
	}
	return quotes, nil
}

func quote(p product.Product, s *Sale) Quote {
	q := Quote{
		ProductID:     p.ID,
		OriginalPrice: p.Price,
		FinalPrice:    p.Price,
		Discount:      decimal.Zero,
	}
	if s != nil {
		q.FinalPrice = s.DiscountedPrice(p.Price)
		q.Discount = p.Price.Sub(q.FinalPrice)
		q.Sale = s
	}
	return q
}

// applicable filters sales down to the active ones targeting p and sorts
// them deterministically. The active check is repeated here because the
// repository may serve a cached list.
func applicable(sales []Sale, p product.Product, now time.Time) []Sale {
	out := make([]Sale, 0, len(sales))
	for _, s := range sales {
		if s.IsActive(now) && s.Target.Matches(p) {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b Sale) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// best keeps the first sale with the greatest discount. Ties keep the
// earlier sale in priority order.
func best(sales []Sale, price decimal.Decimal) *Sale {
	var (
		winner     *Sale
		bestAmount = decimal.Zero
	)
	for i := range sales {
		amount := sales[i].DiscountAmount(price)
		if amount.GreaterThan(bestAmount) {
			bestAmount = amount
			winner = &sales[i]
		}
	}
	return winner
}
