// Package payment owns the PaymentRequest lifecycle: invoice creation,
// settlement from webhook and poll, admin confirmation and cancellation.
package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/ledger"
	"github.com/xenking/qpay-checkout/internal/qpay"
)

// Status is the PaymentRequest state. Pending is the only non-terminal
// state and Paid is absorbing.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusPaid      Status = "Paid"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Payment types recorded on a settled request.
const (
	TypeQPay           = "qpay"
	TypeAdminConfirmed = "admin_confirmed"
)

// MinInvoiceAmount is the smallest amount the gateway accepts.
var MinInvoiceAmount = decimal.NewFromInt(100)

var (
	ErrNotFound         = apperr.NotFound("payment request not found")
	ErrNotPending       = apperr.Conflict("payment request is not pending")
	ErrNoInvoice        = apperr.Validation("payment request has no invoice")
	ErrAmountTooSmall   = apperr.Validation("amount must be at least 100 MNT")
	ErrInvalidSignature = apperr.Validation("invalid callback signature")
	ErrMissingInvoiceID = apperr.Validation("callback has no invoice id")
)

// Link is a bank application deeplink for an invoice.
type Link struct {
	Name        string
	Description string
	Logo        string
	Link        string
}

// Invoice holds the gateway fields attached to a PaymentRequest.
type Invoice struct {
	ID       string
	QRText   string
	QRImage  string
	ShortURL string
	URLs     []Link
}

// Request is the PaymentRequest of one order.
type Request struct {
	ID      string
	OrderID string
	Amount  decimal.Decimal
	// Code is the human-readable payment code, PD-YYMMDD-NNNNNNN.
	Code        string
	Status      Status
	PaymentType string
	Invoice     *Invoice
	// PaymentInfo is the raw gateway payload that moved the request out of
	// Pending.
	PaymentInfo []byte
	PaidAt      *time.Time
	// Customer and UserID are read from the order for ledger rows.
	Customer  ledger.Customer
	UserID    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasInvoice reports whether a gateway invoice is attached.
func (r *Request) HasInvoice() bool {
	return r.Invoice != nil && r.Invoice.ID != ""
}

// Transition is a compare-and-swap status change. It applies only while the
// stored status equals From.
type Transition struct {
	From         Status
	To           Status
	PaymentType  string
	PaidAt       *time.Time
	PaymentInfo  []byte
	ClearInvoice bool
}

// Repository persists PaymentRequests.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByOrderID(ctx context.Context, orderID string) (*Request, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*Request, error)
	// AttachInvoice stores gateway fields on a Pending request and returns
	// ErrNotPending otherwise.
	AttachInvoice(ctx context.Context, id string, inv Invoice, paymentType string) error
	// Transition applies t and reports whether a row changed.
	Transition(ctx context.Context, id string, t Transition) (bool, error)
}

// OrderAdvancer moves an order forward once its payment settles.
type OrderAdvancer interface {
	MarkProcessing(ctx context.Context, orderID string) error
}

// Gateway is the external payment gateway.
type Gateway interface {
	CreateInvoice(ctx context.Context, r qpay.InvoiceRequest) (*qpay.Invoice, error)
	CheckPayment(ctx context.Context, invoiceID string) (*qpay.PaymentCheck, error)
	CancelInvoice(ctx context.Context, invoiceID string) error
}

var _ Gateway = (*qpay.Client)(nil)

func invoiceFromGateway(inv *qpay.Invoice) Invoice {
	out := Invoice{
		ID:       inv.InvoiceID,
		QRText:   inv.QRText,
		QRImage:  inv.QRImage,
		ShortURL: inv.ShortURL,
	}
	for _, u := range inv.URLs {
		out.URLs = append(out.URLs, Link{
			Name:        u.Name,
			Description: u.Description,
			Logo:        u.Logo,
			Link:        u.Link,
		})
	}
	return out
}
