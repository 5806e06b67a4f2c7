package payment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/ledger"
	"github.com/xenking/qpay-checkout/internal/domain/txn"
	"github.com/xenking/qpay-checkout/internal/qpay"
)

const meterName = "github.com/xenking/qpay-checkout/internal/domain/payment"

// Outcome reports what a reconciliation call did.
type Outcome struct {
	Request *Request
	// Applied is true when this call changed the request.
	Applied bool
	// AlreadyPaid is true when the request was Paid before this call.
	AlreadyPaid bool
	// PaidAmount is the amount the gateway reported, when it was asked.
	PaidAmount decimal.Decimal
	// InvoiceID is the invoice a callback referred to. It is set on error
	// too, once the body parsed.
	InvoiceID string
}

// Config configures a Service.
type Config struct {
	// WebhookSecret is the HMAC key for callback signatures.
	WebhookSecret string
	// CallbackURL is sent with every new invoice.
	CallbackURL   string
	MeterProvider metric.MeterProvider
}

// Service reconciles PaymentRequests with the gateway. Every transition out
// of Pending is a compare-and-swap inside one transaction together with its
// ledger row, so concurrent webhook and poll calls settle a request once.
type Service struct {
	payments Repository
	orders   OrderAdvancer
	entries  ledger.Repository
	gateway  Gateway
	tx       txn.Transactor

	secret      []byte
	callbackURL string

	transitions metric.Int64Counter
	rejected    metric.Int64Counter

	now  func() time.Time
	rand func(n int) int
}

// NewService creates a payment Service.
func NewService(
	payments Repository,
	orders OrderAdvancer,
	entries ledger.Repository,
	gateway Gateway,
	tx txn.Transactor,
	cfg Config,
) (*Service, error) {
	mp := cfg.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)

	transitions, err := meter.Int64Counter("payment.transitions",
		metric.WithDescription("PaymentRequests moved out of Pending"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "transitions counter")
	}
	rejected, err := meter.Int64Counter("payment.callbacks.rejected",
		metric.WithDescription("Gateway callbacks rejected before processing"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}

	return &Service{
		payments:    payments,
		orders:      orders,
		entries:     entries,
		gateway:     gateway,
		tx:          tx,
		secret:      []byte(cfg.WebhookSecret),
		callbackURL: cfg.CallbackURL,
		transitions: transitions,
		rejected:    rejected,
		now:         time.Now,
		rand:        rand.IntN,
	}, nil
}

// Info returns the PaymentRequest of an order.
func (s *Service) Info(ctx context.Context, orderID string) (*Request, error) {
	r, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get payment request")
	}
	return r, nil
}

// CreateInvoice opens a gateway invoice for a Pending request and attaches
// it. A gateway failure leaves the request untouched.
func (s *Service) CreateInvoice(ctx context.Context, orderID string) (*Request, error) {
	r, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get payment request")
	}
	if r.Status != StatusPending {
		return nil, ErrNotPending
	}
	if r.Amount.LessThan(MinInvoiceAmount) {
		return nil, ErrAmountTooSmall
	}

	invoiceNo := fmt.Sprintf("ORDER-%s-%d-%03d", r.OrderID, s.now().UnixMilli(), s.rand(1000))
	created, err := s.gateway.CreateInvoice(ctx, qpay.InvoiceRequest{
		SenderInvoiceNo: invoiceNo,
		Description:     fmt.Sprintf("Order #%s - %s", r.OrderID, r.Code),
		Amount:          r.Amount,
		CallbackURL:     s.callbackURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}

	inv := invoiceFromGateway(created)
	if err := s.payments.AttachInvoice(ctx, r.ID, inv, TypeQPay); err != nil {
		return nil, errors.Wrap(err, "attach invoice")
	}
	r.Invoice = &inv
	r.PaymentType = TypeQPay

	zctx.From(ctx).Info("Invoice created",
		zap.String("order_id", r.OrderID),
		zap.String("invoice_id", inv.ID),
		zap.String("sender_invoice_no", invoiceNo),
	)
	return r, nil
}

// HandleCallback processes a gateway callback body. A non-empty signature
// is verified before anything is read or written.
func (s *Service) HandleCallback(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if signature != "" && !qpay.VerifySignature(s.secret, body, signature) {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "signature")))
		return Outcome{}, ErrInvalidSignature
	}

	cb, err := qpay.ParseCallback(body)
	if err != nil {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "malformed")))
		return Outcome{}, &apperr.Error{Kind: apperr.KindValidation, Message: "malformed callback body", Err: err}
	}
	if cb.InvoiceID == "" {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "invoice_id")))
		return Outcome{}, ErrMissingInvoiceID
	}

	out, err := s.reconcile(ctx, cb, body)
	out.InvoiceID = cb.InvoiceID
	return out, err
}

// reconcile applies a parsed callback to the request owning its invoice.
func (s *Service) reconcile(ctx context.Context, cb qpay.Callback, body []byte) (Outcome, error) {
	r, err := s.payments.GetByInvoiceID(ctx, cb.InvoiceID)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "get payment request")
	}
	if r.Status == StatusPaid {
		return Outcome{Request: r, AlreadyPaid: true}, nil
	}
	if r.Status != StatusPending {
		return Outcome{Request: r}, nil
	}

	switch {
	case cb.IsPaid():
		paid := cb.Amount.Decimal
		if !cb.Amount.Valid {
			check, err := s.gateway.CheckPayment(ctx, cb.InvoiceID)
			if err != nil {
				return Outcome{}, errors.Wrap(err, "check payment")
			}
			if !check.Paid(r.Amount) {
				return Outcome{Request: r, PaidAmount: check.PaidAmount}, nil
			}
			paid = check.PaidAmount
		}
		if paid.LessThan(r.Amount) {
			zctx.From(ctx).Warn("Callback amount below requested",
				zap.String("invoice_id", cb.InvoiceID),
				zap.String("amount", paid.String()),
				zap.String("requested", r.Amount.String()),
			)
			return Outcome{Request: r, PaidAmount: paid}, nil
		}
		out, err := s.settle(ctx, r, settlement{
			source:      "webhook",
			paymentType: TypeQPay,
			ledgerType:  ledger.TypeQPayPayment,
			method:      TypeQPay,
			reference:   cb.InvoiceID,
			description: "QPay payment (webhook) - order #" + r.OrderID,
			info:        body,
			advance:     true,
		})
		out.PaidAmount = paid
		return out, err
	case cb.IsFailed():
		return s.fail(ctx, r, cb.InvoiceID, body)
	default:
		return Outcome{Request: r}, nil
	}
}

// Check asks the gateway whether the order's invoice is paid and settles it
// when the paid amount covers the request.
func (s *Service) Check(ctx context.Context, orderID string) (Outcome, error) {
	r, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "get payment request")
	}
	if r.Status == StatusPaid {
		return Outcome{Request: r, AlreadyPaid: true}, nil
	}
	if r.Status != StatusPending {
		return Outcome{Request: r}, nil
	}
	if !r.HasInvoice() {
		return Outcome{}, ErrNoInvoice
	}

	check, err := s.gateway.CheckPayment(ctx, r.Invoice.ID)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "check payment")
	}
	if !check.Paid(r.Amount) {
		return Outcome{Request: r, PaidAmount: check.PaidAmount}, nil
	}

	out, err := s.settle(ctx, r, settlement{
		source:      "poll",
		paymentType: TypeQPay,
		ledgerType:  ledger.TypeQPayPayment,
		method:      TypeQPay,
		reference:   r.Invoice.ID,
		description: "QPay payment - order #" + r.OrderID,
		info:        check.FirstRow(),
		advance:     true,
	})
	out.PaidAmount = check.PaidAmount
	return out, err
}

// ConfirmByAdmin marks the order's payment Paid without the gateway. The
// order status is left to the caller.
func (s *Service) ConfirmByAdmin(ctx context.Context, orderID string) (Outcome, error) {
	r, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "get payment request")
	}
	if r.Status == StatusPaid {
		return Outcome{Request: r, AlreadyPaid: true}, nil
	}
	return s.settle(ctx, r, settlement{
		source:      "admin",
		paymentType: TypeAdminConfirmed,
		ledgerType:  ledger.TypeOrderPayment,
		method:      TypeAdminConfirmed,
		description: "Payment confirmed by admin - order #" + r.OrderID,
	})
}

// Cancel cancels the gateway invoice of a Pending request, clears its
// gateway fields and marks it Cancelled.
func (s *Service) Cancel(ctx context.Context, orderID string) (Outcome, error) {
	r, err := s.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "get payment request")
	}
	if !r.HasInvoice() {
		return Outcome{}, ErrNoInvoice
	}
	if r.Status != StatusPending {
		return Outcome{}, ErrNotPending
	}

	invoiceID := r.Invoice.ID
	if err := s.gateway.CancelInvoice(ctx, invoiceID); err != nil {
		return Outcome{}, errors.Wrap(err, "cancel invoice")
	}

	now := s.now()
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.payments.Transition(ctx, r.ID, Transition{
			From:         StatusPending,
			To:           StatusCancelled,
			ClearInvoice: true,
		})
		if err != nil {
			return errors.Wrap(err, "mark cancelled")
		}
		if !ok {
			return ErrNotPending
		}
		e := s.entry(r, ledger.TypeCancelled, ledger.StatusCancelled, now)
		e.PaymentMethod = TypeQPay
		e.ExternalReference = invoiceID
		e.Description = "QPay payment cancelled - order #" + r.OrderID
		return s.append(ctx, e)
	})
	if err != nil {
		return Outcome{}, err
	}

	r.Status = StatusCancelled
	r.Invoice = nil
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", "cancel"),
		attribute.String("status", string(StatusCancelled)),
	))
	return Outcome{Request: r, Applied: true}, nil
}

type settlement struct {
	source      string
	paymentType string
	ledgerType  ledger.Type
	method      string
	reference   string
	description string
	info        []byte
	// advance moves the order to Processing in the same transaction.
	advance bool
}

// settle moves r from its observed status to Paid. A lost race reports the
// stored state with Applied false.
func (s *Service) settle(ctx context.Context, r *Request, st settlement) (Outcome, error) {
	now := s.now()
	applied := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.payments.Transition(ctx, r.ID, Transition{
			From:        r.Status,
			To:          StatusPaid,
			PaymentType: st.paymentType,
			PaidAt:      &now,
			PaymentInfo: st.info,
		})
		if err != nil {
			return errors.Wrap(err, "mark paid")
		}
		if !ok {
			return nil
		}
		applied = true

		if st.advance {
			if err := s.orders.MarkProcessing(ctx, r.OrderID); err != nil {
				return errors.Wrap(err, "advance order")
			}
		}

		e := s.entry(r, st.ledgerType, ledger.StatusCompleted, now)
		e.PaymentMethod = st.method
		e.ExternalReference = st.reference
		e.Description = st.description
		e.Metadata = st.info
		return s.append(ctx, e)
	})
	if err != nil {
		return Outcome{}, err
	}

	if !applied {
		current, err := s.payments.GetByOrderID(ctx, r.OrderID)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "reload payment request")
		}
		return Outcome{Request: current, AlreadyPaid: current.Status == StatusPaid}, nil
	}

	r.Status = StatusPaid
	r.PaidAt = &now
	r.PaymentType = st.paymentType
	r.PaymentInfo = st.info
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", st.source),
		attribute.String("status", string(StatusPaid)),
	))
	zctx.From(ctx).Info("Payment settled",
		zap.String("order_id", r.OrderID),
		zap.String("payment_request_id", r.ID),
		zap.String("source", st.source),
	)
	return Outcome{Request: r, Applied: true}, nil
}

// fail moves a Pending request to Failed. The order is not touched.
func (s *Service) fail(ctx context.Context, r *Request, invoiceID string, body []byte) (Outcome, error) {
	now := s.now()
	applied := false
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := s.payments.Transition(ctx, r.ID, Transition{
			From:        StatusPending,
			To:          StatusFailed,
			PaymentInfo: body,
		})
		if err != nil {
			return errors.Wrap(err, "mark failed")
		}
		if !ok {
			return nil
		}
		applied = true

		e := s.entry(r, ledger.TypeCancelled, ledger.StatusFailed, now)
		e.PaymentMethod = TypeQPay
		e.ExternalReference = invoiceID
		e.Description = "QPay payment failed - order #" + r.OrderID
		e.Metadata = body
		return s.append(ctx, e)
	})
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		return Outcome{Request: r}, nil
	}

	r.Status = StatusFailed
	r.PaymentInfo = body
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", "webhook"),
		attribute.String("status", string(StatusFailed)),
	))
	return Outcome{Request: r, Applied: true}, nil
}

func (s *Service) entry(r *Request, typ ledger.Type, status ledger.Status, at time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:               uuid.New().String(),
		OrderID:          r.OrderID,
		PaymentRequestID: r.ID,
		UserID:           r.UserID,
		Type:             typ,
		Status:           status,
		Amount:           r.Amount,
		OriginalAmount:   r.Amount,
		DiscountAmount:   decimal.Zero,
		Currency:         ledger.Currency,
		Customer:         r.Customer,
		CreatedAt:        at,
	}
}

func (s *Service) append(ctx context.Context, e *ledger.Entry) error {
	if err := s.entries.Append(ctx, e); err != nil {
		return errors.Wrap(err, "append ledger entry")
	}
	return nil
}
