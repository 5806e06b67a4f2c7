package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/ledger"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/domain/product"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
	"github.com/xenking/qpay-checkout/internal/domain/txn"
)

// DefaultVATRate is the informational VAT share of an order total.
var DefaultVATRate = decimal.RequireFromString("0.10")

func productNotFound(id string) error {
	return &apperr.Error{
		Kind:    apperr.KindNotFound,
		Message: fmt.Sprintf("product %s not found", id),
		Err:     product.ErrNotFound,
	}
}

func invalidQuantity(id string) error {
	return apperr.Validationf("quantity must be greater than 0 for product %s", id)
}

// SalePricer prices products with their best active sale.
type SalePricer interface {
	QuoteAll(ctx context.Context, products []product.Product) ([]sale.Quote, error)
}

// PromoEvaluator validates and redeems promo codes.
type PromoEvaluator interface {
	Validate(ctx context.Context, code string, cartTotal decimal.Decimal, lines []promo.Line) (*promo.Result, error)
	Redeem(ctx context.Context, c *promo.Code) error
}

// CodeGenerator issues payment codes.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// PaymentConfirmer marks an order's payment as confirmed by an administrator.
type PaymentConfirmer interface {
	ConfirmByAdmin(ctx context.Context, orderID string) (payment.Outcome, error)
}

// Item is a requested cart line.
type Item struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest holds the input for a checkout.
type CheckoutRequest struct {
	Items     []Item
	Contact   Contact
	PromoCode string
	// UserID is nil for guest checkout.
	UserID *string
}

// CheckoutResult holds the persisted order and its payment request.
type CheckoutResult struct {
	Order   *Order
	Payment *payment.Request
}

// Option configures a Service.
type Option func(*Service)

// WithVATRate overrides DefaultVATRate.
func WithVATRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.vatRate = rate }
}

// Service encapsulates checkout and the administrative order workflow.
type Service struct {
	products product.Repository
	sales    SalePricer
	promos   PromoEvaluator
	codes    CodeGenerator
	orders   Repository
	payments payment.Repository
	confirm  PaymentConfirmer
	entries  ledger.Repository
	tx       txn.Transactor
	vatRate  decimal.Decimal
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	sales SalePricer,
	promos PromoEvaluator,
	codes CodeGenerator,
	orders Repository,
	payments payment.Repository,
	confirm PaymentConfirmer,
	entries ledger.Repository,
	tx txn.Transactor,
	opts ...Option,
) *Service {
	s := &Service{
		products: products,
		sales:    sales,
		promos:   promos,
		codes:    codes,
		orders:   orders,
		payments: payments,
		confirm:  confirm,
		entries:  entries,
		tx:       tx,
		vatRate:  DefaultVATRate,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Checkout prices the cart, validates the promo code and persists the order,
// its contact snapshot and its Pending payment request in one transaction.
// Every validation runs before the first write.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	contact := req.Contact.Normalize()
	if err := contact.Validate(); err != nil {
		return nil, err
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, invalidQuantity(item.ProductID)
		}
	}

	o, lines, err := s.price(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	o.UserID = req.UserID
	totalAfterSales := o.Subtotal.Sub(o.SaleDiscount)

	var applied *promo.Result
	if req.PromoCode != "" {
		applied, err = s.promos.Validate(ctx, req.PromoCode, totalAfterSales, lines)
		if err != nil {
			return nil, errors.Wrap(err, "validate promo code")
		}
		o.PromoDiscount = applied.Discount
		codeID := applied.Code.ID
		o.PromoCodeID = &codeID
		o.PromoCodeUsed = applied.Code.Code
	}

	total := totalAfterSales.Sub(o.PromoDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Subtotal = o.Subtotal.Round(2)
	o.SaleDiscount = o.SaleDiscount.Round(2)
	o.PromoDiscount = o.PromoDiscount.Round(2)
	o.Total = total.Round(2)
	o.VAT = o.Total.Mul(s.vatRate).Round(2)

	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "generate payment code")
	}

	pr := &payment.Request{
		ID:       uuid.New().String(),
		Amount:   o.Total,
		Code:     code,
		Status:   payment.StatusPending,
		UserID:   req.UserID,
		Customer: customerOf(contact),
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.orders.CreateContact(ctx, &contact); err != nil {
			return errors.Wrap(err, "create contact")
		}
		o.Contact = contact
		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		pr.OrderID = o.ID
		if err := s.payments.Create(ctx, pr); err != nil {
			return errors.Wrap(err, "create payment request")
		}
		if applied != nil {
			if err := s.promos.Redeem(ctx, applied.Code); err != nil {
				return errors.Wrap(err, "redeem promo code")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("payment_code", code),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("promo_code", o.PromoCodeUsed),
	)
	return &CheckoutResult{Order: o, Payment: pr}, nil
}

// Get returns an order with its contact and line items.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListByPhone returns the orders placed with a contact phone number.
func (s *Service) ListByPhone(ctx context.Context, phone string) ([]Order, error) {
	orders, err := s.orders.ListByPhone(ctx, phone)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// UpdateStatus applies an administrative status change. Moving past
// Awaiting Payment confirms the payment; Cancelled cancels the order.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Order, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if st == StatusCancelled {
		return s.Cancel(ctx, id)
	}

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.orders.UpdateStatus(ctx, id, st); err != nil {
			return errors.Wrap(err, "update status")
		}
		if st == StatusAwaitingPayment {
			return nil
		}
		if _, err := s.confirm.ConfirmByAdmin(ctx, id); err != nil {
			return errors.Wrap(err, "confirm payment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.Status = st
	return o, nil
}

// Cancel cancels the order and records a cancelled ledger row, whatever
// the payment status. Cancelling a cancelled order is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	pr, err := s.payments.GetByOrderID(ctx, id)
	if err != nil && !errors.Is(err, payment.ErrNotFound) {
		return nil, errors.Wrap(err, "get payment request")
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		prev, err := s.orders.UpdateStatus(ctx, id, StatusCancelled)
		if err != nil {
			return errors.Wrap(err, "update status")
		}
		if prev == StatusCancelled {
			return nil
		}
		e := &ledger.Entry{
			ID:             uuid.New().String(),
			OrderID:        o.ID,
			UserID:         o.UserID,
			Type:           ledger.TypeCancelled,
			Status:         ledger.StatusCancelled,
			Amount:         o.Total,
			OriginalAmount: o.Subtotal,
			DiscountAmount: o.SaleDiscount.Add(o.PromoDiscount),
			Currency:       ledger.Currency,
			Description:    "Order cancelled - order #" + o.ID,
			Customer:       customerOf(o.Contact),
			CreatedAt:      s.now(),
		}
		if pr != nil {
			e.PaymentRequestID = pr.ID
			e.PaymentMethod = pr.PaymentType
		}
		if err := s.entries.Append(ctx, e); err != nil {
			return errors.Wrap(err, "append ledger entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.Status = StatusCancelled
	return o, nil
}

// SalePrices quotes each product id with its best active sale. The result
// is index-aligned with ids.
func (s *Service) SalePrices(ctx context.Context, ids []string) ([]sale.Quote, error) {
	products, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	quotes, err := s.sales.QuoteAll(ctx, products)
	if err != nil {
		return nil, errors.Wrap(err, "price products")
	}
	return quotes, nil
}

// PreviewPromo prices the cart and validates code against it without
// redeeming the code.
func (s *Service) PreviewPromo(ctx context.Context, code string, items []Item) (*promo.Result, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, invalidQuantity(item.ProductID)
		}
	}
	o, lines, err := s.price(ctx, items)
	if err != nil {
		return nil, err
	}
	res, err := s.promos.Validate(ctx, code, o.Subtotal.Sub(o.SaleDiscount), lines)
	if err != nil {
		return nil, errors.Wrap(err, "validate promo code")
	}
	return res, nil
}

// lookup fetches products in the order of ids. Unknown ids fail with a
// NotFound error naming the first missing product.
func (s *Service) lookup(ctx context.Context, ids []string) ([]product.Product, error) {
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}
	products := make([]product.Product, len(ids))
	for i, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, productNotFound(id)
		}
		products[i] = p
	}
	return products, nil
}

// price builds the unpersisted order lines from the catalog and the active
// sales. Amounts are not rounded yet.
func (s *Service) price(ctx context.Context, items []Item) (*Order, []promo.Line, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	products, err := s.lookup(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	quotes, err := s.sales.QuoteAll(ctx, products)
	if err != nil {
		return nil, nil, errors.Wrap(err, "price products")
	}

	o := &Order{
		Items:         make([]LineItem, len(items)),
		Subtotal:      decimal.Zero,
		SaleDiscount:  decimal.Zero,
		PromoDiscount: decimal.Zero,
		Status:        StatusAwaitingPayment,
	}
	lines := make([]promo.Line, len(items))
	for i, item := range items {
		q := quotes[i]
		qty := decimal.NewFromInt(int64(item.Quantity))
		li := LineItem{
			ProductID:     item.ProductID,
			Name:          products[i].Name,
			Quantity:      item.Quantity,
			OriginalPrice: q.OriginalPrice,
			Price:         q.FinalPrice,
			SaleDiscount:  q.Discount.Mul(qty),
		}
		if q.Sale != nil {
			saleID := q.Sale.ID
			li.SaleID = &saleID
		}
		o.Items[i] = li
		o.Subtotal = o.Subtotal.Add(q.OriginalPrice.Mul(qty))
		o.SaleDiscount = o.SaleDiscount.Add(li.SaleDiscount)
		lines[i] = promo.Line{Product: products[i], UnitPrice: q.FinalPrice, Quantity: item.Quantity}
	}
	return o, lines, nil
}

func customerOf(c Contact) ledger.Customer {
	return ledger.Customer{Name: c.Name, Email: c.Email, Phone: c.Phone}
}
