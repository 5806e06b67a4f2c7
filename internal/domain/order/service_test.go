package order

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/ledger"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/domain/product"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
	"github.com/xenking/qpay-checkout/internal/domain/txn"
)

type mockProductRepo struct {
	products map[string]product.Product
	err      error
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockSaleRepo struct {
	sales []sale.Sale
}

func (m *mockSaleRepo) ListActive(context.Context, time.Time) ([]sale.Sale, error) {
	return m.sales, nil
}

type mockPromoRepo struct {
	codes       map[string]*promo.Code
	incremented []string
}

func (m *mockPromoRepo) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	c, ok := m.codes[code]
	if !ok {
		return nil, promo.ErrNotFound
	}
	return c, nil
}

func (m *mockPromoRepo) IncrementUses(_ context.Context, id string) error {
	m.incremented = append(m.incremented, id)
	return nil
}

func (m *mockPromoRepo) Create(context.Context, *promo.Code) error { return nil }

type mockCodes struct {
	n     int
	calls int
}

func (m *mockCodes) Generate(context.Context) (string, error) {
	m.calls++
	m.n++
	return "PD-250615-" + leftPad(m.n), nil
}

func leftPad(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 7 {
		s = "0" + s
	}
	return s
}

type memOrders struct {
	contacts []Contact
	orders   map[string]*Order
	seq      int
	// failCreate makes Create fail to exercise rollback paths.
	failCreate error
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*Order)}
}

func (m *memOrders) CreateContact(_ context.Context, c *Contact) error {
	c.ID = "contact-" + strconv.Itoa(len(m.contacts)+1)
	m.contacts = append(m.contacts, *c)
	return nil
}

func (m *memOrders) Create(_ context.Context, o *Order) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.seq++
	o.ID = strconv.Itoa(m.seq)
	stored := *o
	m.orders[o.ID] = &stored
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *memOrders) ListByPhone(_ context.Context, phone string) ([]Order, error) {
	var out []Order
	for _, o := range m.orders {
		if o.Contact.Phone == phone {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) UpdateStatus(_ context.Context, id string, status Status) (Status, error) {
	o, ok := m.orders[id]
	if !ok {
		return "", ErrNotFound
	}
	prev := o.Status
	o.Status = status
	return prev, nil
}

type memPayments struct {
	requests []*payment.Request
}

func (m *memPayments) Create(_ context.Context, r *payment.Request) error {
	c := *r
	m.requests = append(m.requests, &c)
	return nil
}

func (m *memPayments) GetByOrderID(_ context.Context, orderID string) (*payment.Request, error) {
	for _, r := range m.requests {
		if r.OrderID == orderID {
			c := *r
			return &c, nil
		}
	}
	return nil, payment.ErrNotFound
}

func (m *memPayments) GetByInvoiceID(context.Context, string) (*payment.Request, error) {
	return nil, payment.ErrNotFound
}

func (m *memPayments) AttachInvoice(context.Context, string, payment.Invoice, string) error {
	return nil
}

func (m *memPayments) Transition(context.Context, string, payment.Transition) (bool, error) {
	return false, nil
}

type mockConfirmer struct {
	confirmed []string
	err       error
}

func (m *mockConfirmer) ConfirmByAdmin(_ context.Context, orderID string) (payment.Outcome, error) {
	if m.err != nil {
		return payment.Outcome{}, m.err
	}
	m.confirmed = append(m.confirmed, orderID)
	return payment.Outcome{Applied: true}, nil
}

type memLedger struct {
	entries []ledger.Entry
}

func (l *memLedger) Append(_ context.Context, e *ledger.Entry) error {
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLedger) List(context.Context, ledger.Filter) ([]ledger.Entry, error) {
	return l.entries, nil
}

type fixture struct {
	svc      *Service
	products *mockProductRepo
	sales    *mockSaleRepo
	promos   *mockPromoRepo
	codes    *mockCodes
	orders   *memOrders
	payments *memPayments
	confirm  *mockConfirmer
	ledger   *memLedger
}

func newFixture() *fixture {
	f := &fixture{
		products: &mockProductRepo{products: map[string]product.Product{
			"shoe": {ID: "shoe", Name: "Running shoe", Price: d(10000), CategoryIDs: []string{"shoes"}},
			"hat":  {ID: "hat", Name: "Hat", Price: d(3000), CategoryIDs: []string{"hats"}},
		}},
		sales:    &mockSaleRepo{},
		promos:   &mockPromoRepo{codes: make(map[string]*promo.Code)},
		codes:    &mockCodes{},
		orders:   newMemOrders(),
		payments: &memPayments{},
		confirm:  &mockConfirmer{},
		ledger:   &memLedger{},
	}
	f.svc = NewService(
		f.products,
		sale.NewEvaluator(f.sales),
		promo.NewEvaluator(f.promos),
		f.codes,
		f.orders,
		f.payments,
		f.confirm,
		f.ledger,
		txn.Nop,
	)
	return f
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func intPtr(v int) *int { return &v }

func validContact() Contact {
	return Contact{
		Name:    "Bat-Erdene",
		Address: "Ulaanbaatar, SBD 1",
		Phone:   "99112233",
		Email:   "bat@example.mn",
	}
}

func shoeSale() sale.Sale {
	return sale.Sale{
		ID:       "sale-20",
		Target:   discount.ForCategory("shoes"),
		Discount: discount.Rule{Type: discount.Percentage, Value: d(20)},
		Enabled:  true,
	}
}

func fixedPromo() *promo.Code {
	return &promo.Code{
		ID:          "promo-1",
		Code:        "SAVE1000",
		Discount:    discount.Rule{Type: discount.Fixed, Value: d(1000)},
		MinPurchase: decimal.NewNullDecimal(d(10000)),
		Active:      true,
	}
}

func TestCheckout_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		sales         []sale.Sale
		promo         *promo.Code
		promoCode     string
		subtotal      int64
		saleDiscount  int64
		promoDiscount int64
		total         int64
		vat           int64
		redeemed      int
	}{
		{
			name:     "no sale no promo",
			subtotal: 20000,
			total:    20000,
			vat:      2000,
		},
		{
			name:         "category sale",
			sales:        []sale.Sale{shoeSale()},
			subtotal:     20000,
			saleDiscount: 4000,
			total:        16000,
			vat:          1600,
		},
		{
			name:          "category sale and fixed promo",
			sales:         []sale.Sale{shoeSale()},
			promo:         fixedPromo(),
			promoCode:     "save1000",
			subtotal:      20000,
			saleDiscount:  4000,
			promoDiscount: 1000,
			total:         15000,
			vat:           1500,
			redeemed:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.sales.sales = tt.sales
			if tt.promo != nil {
				f.promos.codes[tt.promo.Code] = tt.promo
			}

			res, err := f.svc.Checkout(context.Background(), CheckoutRequest{
				Items:     []Item{{ProductID: "shoe", Quantity: 2}},
				Contact:   validContact(),
				PromoCode: tt.promoCode,
			})
			require.NoError(t, err)

			o := res.Order
			assert.True(t, d(tt.subtotal).Equal(o.Subtotal), "subtotal %s", o.Subtotal)
			assert.True(t, d(tt.saleDiscount).Equal(o.SaleDiscount), "sale discount %s", o.SaleDiscount)
			assert.True(t, d(tt.promoDiscount).Equal(o.PromoDiscount), "promo discount %s", o.PromoDiscount)
			assert.True(t, d(tt.total).Equal(o.Total), "total %s", o.Total)
			assert.True(t, d(tt.vat).Equal(o.VAT), "vat %s", o.VAT)
			assert.Equal(t, StatusAwaitingPayment, o.Status)
			assert.Len(t, f.promos.incremented, tt.redeemed)
			if tt.promo != nil {
				assert.Equal(t, 1, tt.promo.TimesUsed)
				assert.Equal(t, "SAVE1000", o.PromoCodeUsed)
				require.NotNil(t, o.PromoCodeID)
				assert.Equal(t, "promo-1", *o.PromoCodeID)
			}

			require.Len(t, o.Items, 1)
			assert.True(t, d(tt.subtotal-tt.saleDiscount).Div(d(2)).Equal(o.Items[0].Price),
				"line price is post-sale, pre-promo")
			assert.True(t, d(10000).Equal(o.Items[0].OriginalPrice))

			require.Len(t, f.payments.requests, 1)
			pr := f.payments.requests[0]
			assert.Equal(t, o.ID, pr.OrderID)
			assert.Equal(t, payment.StatusPending, pr.Status)
			assert.True(t, o.Total.Equal(pr.Amount))
			assert.Equal(t, "PD-250615-0000001", pr.Code)
			assert.Equal(t, res.Payment.ID, pr.ID)
		})
	}
}

func TestCheckout_UsageLimitReached(t *testing.T) {
	f := newFixture()
	code := fixedPromo()
	code.UsageLimit = intPtr(1)
	code.TimesUsed = 1
	f.promos.codes[code.Code] = code

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		Items:     []Item{{ProductID: "shoe", Quantity: 2}},
		Contact:   validContact(),
		PromoCode: "SAVE1000",
	})
	require.ErrorIs(t, err, promo.ErrUsageLimitReached)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	assert.Empty(t, f.orders.orders)
	assert.Empty(t, f.orders.contacts)
	assert.Empty(t, f.payments.requests)
	assert.Empty(t, f.promos.incremented)
	assert.Zero(t, f.codes.calls)
}

func TestCheckout_ValidationOrder(t *testing.T) {
	tests := []struct {
		name    string
		req     CheckoutRequest
		wantErr error
		kind    apperr.Kind
	}{
		{
			name:    "empty items wins over missing contact",
			req:     CheckoutRequest{},
			wantErr: ErrEmptyItems,
			kind:    apperr.KindValidation,
		},
		{
			name: "non-positive quantity",
			req: CheckoutRequest{
				Items:   []Item{{ProductID: "shoe", Quantity: 0}},
				Contact: validContact(),
			},
			kind: apperr.KindValidation,
		},
		{
			name: "missing contact wins over non-positive quantity",
			req: CheckoutRequest{
				Items:   []Item{{ProductID: "shoe", Quantity: 0}},
				Contact: Contact{Name: "Bat"},
			},
			wantErr: ErrContactIncomplete,
			kind:    apperr.KindValidation,
		},
		{
			name: "missing contact wins over unknown product",
			req: CheckoutRequest{
				Items:   []Item{{ProductID: "ghost", Quantity: 1}},
				Contact: Contact{Name: "Bat", Address: "UB", Phone: "9911"},
			},
			wantErr: ErrContactIncomplete,
			kind:    apperr.KindValidation,
		},
		{
			name: "whitespace-only contact field",
			req: CheckoutRequest{
				Items: []Item{{ProductID: "shoe", Quantity: 1}},
				Contact: func() Contact {
					c := validContact()
					c.Address = "   "
					return c
				}(),
			},
			wantErr: ErrContactIncomplete,
			kind:    apperr.KindValidation,
		},
		{
			name: "unknown product",
			req: CheckoutRequest{
				Items:   []Item{{ProductID: "shoe", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
				Contact: validContact(),
			},
			wantErr: product.ErrNotFound,
			kind:    apperr.KindNotFound,
		},
		{
			name: "unknown promo code",
			req: CheckoutRequest{
				Items:     []Item{{ProductID: "shoe", Quantity: 1}},
				Contact:   validContact(),
				PromoCode: "NOPE",
			},
			wantErr: promo.ErrNotFound,
			kind:    apperr.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			_, err := f.svc.Checkout(context.Background(), tt.req)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Empty(t, f.orders.orders)
			assert.Empty(t, f.orders.contacts)
			assert.Empty(t, f.payments.requests)
			assert.Zero(t, f.codes.calls)
		})
	}
}

func TestCheckout_UnknownProductMessage(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		Items:   []Item{{ProductID: "ghost", Quantity: 1}},
		Contact: validContact(),
	})
	require.Error(t, err)
	assert.Equal(t, "product ghost not found", apperr.Message(err))
}

func TestCheckout_MultipleLines(t *testing.T) {
	f := newFixture()
	f.sales.sales = []sale.Sale{shoeSale()}
	code := fixedPromo()
	code.Applicable = discount.ForCategory("hats")
	code.Discount = discount.Rule{Type: discount.Percentage, Value: d(50)}
	code.MinPurchase = decimal.NullDecimal{}
	f.promos.codes[code.Code] = code

	res, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		Items: []Item{
			{ProductID: "shoe", Quantity: 1},
			{ProductID: "hat", Quantity: 2},
		},
		Contact:   validContact(),
		PromoCode: "SAVE1000",
	})
	require.NoError(t, err)

	o := res.Order
	// shoe 10000 -> 8000 on sale; hats 2 x 3000 = 6000, half off by promo.
	assert.True(t, d(16000).Equal(o.Subtotal))
	assert.True(t, d(2000).Equal(o.SaleDiscount))
	assert.True(t, d(3000).Equal(o.PromoDiscount))
	assert.True(t, d(11000).Equal(o.Total))
	assert.True(t, d(1100).Equal(o.VAT))

	require.Len(t, o.Items, 2)
	require.NotNil(t, o.Items[0].SaleID)
	assert.Equal(t, "sale-20", *o.Items[0].SaleID)
	assert.Nil(t, o.Items[1].SaleID)
	assert.True(t, d(3000).Equal(o.Items[1].Price))
}

func TestCheckout_NewContactPerOrder(t *testing.T) {
	f := newFixture()
	req := CheckoutRequest{
		Items:   []Item{{ProductID: "hat", Quantity: 1}},
		Contact: validContact(),
	}

	first, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, f.orders.contacts, 2)
	assert.NotEqual(t, first.Order.Contact.ID, second.Order.Contact.ID)
	assert.NotEqual(t, first.Payment.Code, second.Payment.Code)
}

func TestCheckout_PersistFailure(t *testing.T) {
	f := newFixture()
	f.orders.failCreate = errors.New("connection reset")

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		Items:   []Item{{ProductID: "hat", Quantity: 1}},
		Contact: validContact(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, f.payments.requests)
}

func placeOrder(t *testing.T, f *fixture) *Order {
	t.Helper()
	res, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		Items:   []Item{{ProductID: "shoe", Quantity: 1}},
		Contact: validContact(),
	})
	require.NoError(t, err)
	return res.Order
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		confirmed int
		ledger    int
		want      Status
	}{
		{name: "processing confirms payment", status: "Processing", confirmed: 1, want: StatusProcessing},
		{name: "shipped confirms payment", status: "Shipped", confirmed: 1, want: StatusShipped},
		{name: "done confirms payment", status: "Done", confirmed: 1, want: StatusDone},
		{name: "awaiting payment leaves payment alone", status: "Awaiting Payment", want: StatusAwaitingPayment},
		{name: "cancelled records ledger row", status: "Cancelled", ledger: 1, want: StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			o := placeOrder(t, f)

			got, err := f.svc.UpdateStatus(context.Background(), o.ID, tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want, f.orders.orders[o.ID].Status)
			assert.Len(t, f.confirm.confirmed, tt.confirmed)
			assert.Len(t, f.ledger.entries, tt.ledger)
		})
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture()
	o := placeOrder(t, f)

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, "Lost")
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, "invalid status: Lost", apperr.Message(err))

	_, err = f.svc.UpdateStatus(context.Background(), "999", "Shipped")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.confirm.confirmed)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	o := placeOrder(t, f)
	ctx := context.Background()

	got, err := f.svc.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	require.Len(t, f.ledger.entries, 1)
	e := f.ledger.entries[0]
	assert.Equal(t, ledger.TypeCancelled, e.Type)
	assert.Equal(t, ledger.StatusCancelled, e.Status)
	assert.Equal(t, o.ID, e.OrderID)
	assert.Equal(t, f.payments.requests[0].ID, e.PaymentRequestID)
	assert.True(t, o.Total.Equal(e.Amount))
	assert.Equal(t, "Bat-Erdene", e.Customer.Name)

	_, err = f.svc.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, f.ledger.entries, 1, "second cancel is a no-op")
}

func TestListByPhone(t *testing.T) {
	f := newFixture()
	placeOrder(t, f)
	placeOrder(t, f)

	orders, err := f.svc.ListByPhone(context.Background(), "99112233")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = f.svc.ListByPhone(context.Background(), "00000000")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSalePrices(t *testing.T) {
	f := newFixture()
	f.sales.sales = []sale.Sale{shoeSale()}

	quotes, err := f.svc.SalePrices(context.Background(), []string{"hat", "shoe"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "hat", quotes[0].ProductID)
	assert.True(t, quotes[0].FinalPrice.Equal(d(3000)))
	assert.Nil(t, quotes[0].Sale)

	assert.Equal(t, "shoe", quotes[1].ProductID)
	assert.True(t, quotes[1].FinalPrice.Equal(d(8000)))
	require.NotNil(t, quotes[1].Sale)
	assert.Equal(t, "sale-20", quotes[1].Sale.ID)

	_, err = f.svc.SalePrices(context.Background(), []string{"shoe", "ghost"})
	require.ErrorIs(t, err, product.ErrNotFound)
	assert.Equal(t, "product ghost not found", apperr.Message(err))
}

func TestPreviewPromo(t *testing.T) {
	f := newFixture()
	f.sales.sales = []sale.Sale{shoeSale()}
	f.promos.codes["SAVE1000"] = fixedPromo()

	res, err := f.svc.PreviewPromo(context.Background(), "save1000", []Item{{ProductID: "shoe", Quantity: 2}})
	require.NoError(t, err)
	assert.True(t, res.Discount.Equal(d(1000)))
	assert.Empty(t, f.promos.incremented)
	assert.Empty(t, f.orders.orders)

	// 8000 after sale is below the 10000 minimum.
	_, err = f.svc.PreviewPromo(context.Background(), "SAVE1000", []Item{{ProductID: "shoe", Quantity: 1}})
	require.ErrorIs(t, err, promo.ErrBelowMinimum)

	_, err = f.svc.PreviewPromo(context.Background(), "SAVE1000", nil)
	require.ErrorIs(t, err, ErrEmptyItems)
}
