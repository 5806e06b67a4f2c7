// Package handler exposes the checkout, pricing and payment operations over
// HTTP. Responses use the envelope {"success":true,"data":...} and errors
// {"success":false,"code":N,"message":"..."}.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/qpay-checkout/internal/domain/auth"
	"github.com/xenking/qpay-checkout/internal/domain/order"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
)

// Orders is the order workflow used by the handlers.
type Orders interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByPhone(ctx context.Context, phone string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	SalePrices(ctx context.Context, ids []string) ([]sale.Quote, error)
	PreviewPromo(ctx context.Context, code string, items []order.Item) (*promo.Result, error)
}

// Payments is the payment workflow used by the handlers.
type Payments interface {
	Info(ctx context.Context, orderID string) (*payment.Request, error)
	CreateInvoice(ctx context.Context, orderID string) (*payment.Request, error)
	HandleCallback(ctx context.Context, body []byte, signature string) (payment.Outcome, error)
	Check(ctx context.Context, orderID string) (payment.Outcome, error)
	Cancel(ctx context.Context, orderID string) (payment.Outcome, error)
}

// Authenticator validates administrative API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, raw, scope string) (*auth.Key, error)
}

var (
	_ Orders        = (*order.Service)(nil)
	_ Payments      = (*payment.Service)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// APIKeyHeader carries the administrative API key.
const APIKeyHeader = "X-API-Key"

// Handler serves the public and administrative API.
type Handler struct {
	orders   Orders
	payments Payments
	auth     Authenticator
}

// New constructs a Handler with the required domain dependencies.
func New(orders Orders, payments Payments, authenticator Authenticator) *Handler {
	return &Handler{orders: orders, payments: payments, auth: authenticator}
}

// Routes registers every endpoint under /api on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/checkout", h.checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/{id}", h.getOrder)
			r.Get("/contact/{phone}", h.ordersByPhone)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/{id}/sale-price", h.salePrice)
			r.Post("/sale-prices", h.salePrices)
		})
		r.Post("/promo-codes/validate", h.validatePromo)

		r.Route("/qpay", func(r chi.Router) {
			r.Post("/create-invoice/{orderID}", h.createInvoice)
			r.Get("/check/{orderID}", h.checkPayment)
			r.Get("/order/{orderID}", h.paymentInfo)
			r.Delete("/cancel/{orderID}", h.cancelPayment)
			r.Post("/callback", h.callback)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireScope(auth.ScopeAdmin))
			r.Put("/orders/{id}/status", h.updateStatus)
			r.Post("/orders/{id}/cancel", h.cancelOrder)
		})
	})
}

// CallbackPath is the gateway webhook route, exempt from rate limiting.
const CallbackPath = "/api/qpay/callback"

// IsCallback reports whether r is a gateway webhook delivery.
func IsCallback(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == CallbackPath
}
