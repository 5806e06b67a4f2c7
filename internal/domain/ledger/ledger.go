// Package ledger records financial events as append-only SalesTransaction
// rows. Rows are never updated after creation.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the kind of financial event.
type Type string

const (
	TypeOrderPayment Type = "order_payment"
	TypeQPayPayment  Type = "qpay_payment"
	TypeBankTransfer Type = "bank_transfer"
	TypeRefund       Type = "refund"
	TypeDiscount     Type = "discount"
	TypeShippingFee  Type = "shipping_fee"
	TypeCancelled    Type = "cancelled"
)

// Status is the state of the event at the time it was recorded.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Currency is the only supported currency.
const Currency = "MNT"

// Customer is a snapshot of who paid.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Entry is one SalesTransaction row.
type Entry struct {
	ID                string
	OrderID           string
	PaymentRequestID  string
	UserID            *string
	Type              Type
	Status            Status
	Amount            decimal.Decimal
	OriginalAmount    decimal.Decimal
	DiscountAmount    decimal.Decimal
	Currency          string
	PaymentMethod     string
	ExternalReference string
	Description       string
	Customer          Customer
	// Metadata is the raw JSON payload that triggered the event, if any.
	Metadata          []byte
	CreatedAt         time.Time
}

// Filter selects entries for reporting.
type Filter struct {
	From    time.Time
	To      time.Time
	OrderID string
}

// Repository stores ledger entries.
type Repository interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Totals sums amounts per type, for reporting.
func Totals(entries []Entry) map[Type]decimal.Decimal {
	out := make(map[Type]decimal.Decimal)
	for _, e := range entries {
		out[e.Type] = out[e.Type].Add(e.Amount)
	}
	return out
}
