package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/domain/payment"
)

const (
	insertPaymentSQL = `INSERT INTO payment_requests (id, order_id, amount, code, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	paymentColumns = `pr.id, pr.order_id, pr.amount, pr.code, pr.status, COALESCE(pr.payment_type, ''),
		pr.qpay_invoice_id, COALESCE(pr.qr_text, ''), COALESCE(pr.qr_image, ''), COALESCE(pr.qpay_short_url, ''),
		pr.urls, pr.payment_info, pr.paid_date, o.user_id, c.name, c.email, c.phone,
		pr.created_at, pr.updated_at`

	paymentFrom = ` FROM payment_requests pr
		JOIN orders o ON o.id = pr.order_id
		JOIN order_contacts c ON c.id = o.contact_id`

	getPaymentByOrderSQL = `SELECT ` + paymentColumns + paymentFrom + ` WHERE pr.order_id = $1`

	getPaymentByInvoiceSQL = `SELECT ` + paymentColumns + paymentFrom + ` WHERE pr.qpay_invoice_id = $1`

	attachInvoiceSQL = `UPDATE payment_requests SET
		payment_type = $2, qpay_invoice_id = $3, qr_text = $4, qr_image = $5,
		qpay_short_url = $6, urls = $7, updated_at = now()
		WHERE id = $1 AND status = 'Pending'`

	// Compare-and-swap on status; zero rows means another caller won.
	transitionPaymentSQL = `UPDATE payment_requests SET
		status = $3,
		payment_type = COALESCE($4, payment_type),
		paid_date = COALESCE($5, paid_date),
		payment_info = COALESCE($6::jsonb, payment_info),
		qpay_invoice_id = CASE WHEN $7 THEN NULL ELSE qpay_invoice_id END,
		qr_text = CASE WHEN $7 THEN NULL ELSE qr_text END,
		qr_image = CASE WHEN $7 THEN NULL ELSE qr_image END,
		qpay_short_url = CASE WHEN $7 THEN NULL ELSE qpay_short_url END,
		urls = CASE WHEN $7 THEN NULL ELSE urls END,
		updated_at = now()
		WHERE id = $1 AND status = $2`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Create stores a new payment request for an existing order.
func (r *PaymentRepository) Create(ctx context.Context, pr *payment.Request) error {
	key, ok := orderKey(pr.OrderID)
	if !ok {
		return fmt.Errorf("creating payment request: invalid order id %q", pr.OrderID)
	}
	err := conn(ctx, r.pool).QueryRow(ctx, insertPaymentSQL,
		pr.ID, key, pr.Amount, pr.Code, string(pr.Status),
	).Scan(&pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating payment request for order %q: %w", pr.OrderID, err)
	}
	return nil
}

// GetByOrderID returns the payment request of an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Request, error) {
	key, ok := orderKey(orderID)
	if !ok {
		return nil, payment.ErrNotFound
	}
	return r.getOne(ctx, getPaymentByOrderSQL, key)
}

// GetByInvoiceID returns the payment request holding a gateway invoice.
func (r *PaymentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*payment.Request, error) {
	return r.getOne(ctx, getPaymentByInvoiceSQL, invoiceID)
}

func (r *PaymentRepository) getOne(ctx context.Context, sql string, arg any) (*payment.Request, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting payment request: %w", err)
	}
	pr, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment request: %w", err)
	}
	return &pr, nil
}

// AttachInvoice stores gateway fields on a Pending request.
func (r *PaymentRepository) AttachInvoice(ctx context.Context, id string, inv payment.Invoice, paymentType string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, attachInvoiceSQL,
		id, paymentType, inv.ID, inv.QRText, inv.QRImage, inv.ShortURL, encodeLinks(inv.URLs),
	)
	if err != nil {
		return fmt.Errorf("attaching invoice to payment request %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrNotPending
	}
	return nil
}

// Transition applies a status compare-and-swap.
func (r *PaymentRepository) Transition(ctx context.Context, id string, t payment.Transition) (bool, error) {
	var paymentType *string
	if t.PaymentType != "" {
		paymentType = &t.PaymentType
	}
	var info []byte
	if len(t.PaymentInfo) > 0 {
		info = t.PaymentInfo
	}

	tag, err := conn(ctx, r.pool).Exec(ctx, transitionPaymentSQL,
		id, string(t.From), string(t.To), paymentType, t.PaidAt, info, t.ClearInvoice,
	)
	if err != nil {
		return false, fmt.Errorf("moving payment request %q to %s: %w", id, t.To, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Request, error) {
	var (
		pr        payment.Request
		orderID   int64
		status    string
		invoiceID *string
		inv       payment.Invoice
		urls      []byte
	)
	err := row.Scan(
		&pr.ID, &orderID, &pr.Amount, &pr.Code, &status, &pr.PaymentType,
		&invoiceID, &inv.QRText, &inv.QRImage, &inv.ShortURL,
		&urls, &pr.PaymentInfo, &pr.PaidAt, &pr.UserID,
		&pr.Customer.Name, &pr.Customer.Email, &pr.Customer.Phone,
		&pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return pr, err
	}

	pr.OrderID = strconv.FormatInt(orderID, 10)
	pr.Status = payment.Status(status)
	if invoiceID != nil {
		inv.ID = *invoiceID
		links, err := decodeLinks(urls)
		if err != nil {
			return pr, fmt.Errorf("payment request %q urls: %w", pr.ID, err)
		}
		inv.URLs = links
		pr.Invoice = &inv
	}
	return pr, nil
}

// encodeLinks renders deeplinks as the JSON array stored in urls.
func encodeLinks(links []payment.Link) []byte {
	if links == nil {
		return nil
	}
	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, l := range links {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
				e.Field("description", func(e *jx.Encoder) { e.Str(l.Description) })
				e.Field("logo", func(e *jx.Encoder) { e.Str(l.Logo) })
				e.Field("link", func(e *jx.Encoder) { e.Str(l.Link) })
			})
		}
	})
	return e.Bytes()
}

func decodeLinks(data []byte) ([]payment.Link, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var links []payment.Link
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var l payment.Link
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var dst *string
			switch string(key) {
			case "name":
				dst = &l.Name
			case "description":
				dst = &l.Description
			case "logo":
				dst = &l.Logo
			case "link":
				dst = &l.Link
			default:
				return d.Skip()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			*dst = v
			return nil
		}); err != nil {
			return err
		}
		links = append(links, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
