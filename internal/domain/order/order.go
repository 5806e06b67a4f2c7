package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

// Status is the order workflow state.
type Status string

const (
	StatusAwaitingPayment Status = "Awaiting Payment"
	StatusProcessing      Status = "Processing"
	StatusShipped         Status = "Shipped"
	StatusDone            Status = "Done"
	StatusCancelled       Status = "Cancelled"
)

var (
	ErrNotFound          = apperr.NotFound("order not found")
	ErrEmptyItems        = apperr.Validation("items required")
	ErrContactIncomplete = apperr.Validation("please provide contact name, address, phone and email")
	ErrInvalidStatus     = apperr.Validation("invalid order status")
)

// ParseStatus validates an order status supplied by an administrator.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusAwaitingPayment, StatusProcessing, StatusShipped, StatusDone, StatusCancelled:
		return st, nil
	default:
		return "", &apperr.Error{Kind: apperr.KindValidation, Message: "invalid status: " + s, Err: ErrInvalidStatus}
	}
}

// Contact is the delivery contact snapshot taken at checkout. Every order
// gets its own row.
type Contact struct {
	ID      string
	Name    string
	Address string
	Phone   string
	Email   string
	Notes   string
}

// Normalize trims surrounding whitespace from every field.
func (c Contact) Normalize() Contact {
	c.Name = strings.TrimSpace(c.Name)
	c.Address = strings.TrimSpace(c.Address)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	c.Notes = strings.TrimSpace(c.Notes)
	return c
}

// Validate requires name, address, phone and email.
func (c Contact) Validate() error {
	if c.Name == "" || c.Address == "" || c.Phone == "" || c.Email == "" {
		return ErrContactIncomplete
	}
	return nil
}

// LineItem is one frozen cart line. Price is the post-sale unit price; the
// promo discount stays at order level.
type LineItem struct {
	ProductID     string
	Name          string
	Quantity      int
	OriginalPrice decimal.Decimal
	Price         decimal.Decimal
	// SaleDiscount is the sale discount for the whole line.
	SaleDiscount decimal.Decimal
	SaleID       *string
}

// Total returns Price * Quantity.
func (l LineItem) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is an immutable price snapshot. Only Status changes after creation.
type Order struct {
	ID            string
	UserID        *string
	Contact       Contact
	Items         []LineItem
	Subtotal      decimal.Decimal
	SaleDiscount  decimal.Decimal
	PromoDiscount decimal.Decimal
	PromoCodeID   *string
	PromoCodeUsed string
	Total         decimal.Decimal
	VAT           decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	CreateContact(ctx context.Context, c *Contact) error
	// Create stores the order and its line items and assigns ID.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	ListByPhone(ctx context.Context, phone string) ([]Order, error)
	// UpdateStatus sets the status and returns the previous one.
	UpdateStatus(ctx context.Context, id string, status Status) (Status, error)
}
