package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/domain/ledger"
)

const (
	insertLedgerSQL = `INSERT INTO sales_transactions (id, type, status, amount, original_amount,
		discount_amount, currency, description, order_id, payment_request_id, user_id,
		payment_method, external_reference, customer_name, customer_email, customer_phone,
		metadata, transaction_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	listLedgerSQL = `SELECT id, type, status, amount, original_amount, discount_amount, currency,
		description, order_id, COALESCE(payment_request_id, ''), user_id, payment_method,
		external_reference, customer_name, customer_email, customer_phone, metadata, transaction_date
		FROM sales_transactions
		WHERE ($1::timestamptz IS NULL OR transaction_date >= $1)
			AND ($2::timestamptz IS NULL OR transaction_date < $2)
			AND ($3::bigint IS NULL OR order_id = $3)
		ORDER BY transaction_date, id`
)

var _ ledger.Repository = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Repository backed by PostgreSQL.
// Rows are only ever inserted.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Append inserts one ledger row.
func (r *LedgerRepository) Append(ctx context.Context, e *ledger.Entry) error {
	var orderID *int64
	if key, ok := orderKey(e.OrderID); ok {
		orderID = &key
	}
	var paymentRequestID *string
	if e.PaymentRequestID != "" {
		paymentRequestID = &e.PaymentRequestID
	}
	currency := e.Currency
	if currency == "" {
		currency = ledger.Currency
	}

	_, err := conn(ctx, r.pool).Exec(ctx, insertLedgerSQL,
		e.ID, string(e.Type), string(e.Status), e.Amount, e.OriginalAmount,
		e.DiscountAmount, currency, e.Description, orderID, paymentRequestID, e.UserID,
		e.PaymentMethod, e.ExternalReference, e.Customer.Name, e.Customer.Email, e.Customer.Phone,
		e.Metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending %s ledger entry for order %q: %w", e.Type, e.OrderID, err)
	}
	return nil
}

// List returns the entries matching f in chronological order. Zero bounds
// are open.
func (r *LedgerRepository) List(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	var from, to, orderID any
	if !f.From.IsZero() {
		from = f.From
	}
	if !f.To.IsZero() {
		to = f.To
	}
	if f.OrderID != "" {
		key, ok := orderKey(f.OrderID)
		if !ok {
			return nil, nil
		}
		orderID = key
	}

	rows, err := conn(ctx, r.pool).Query(ctx, listLedgerSQL, from, to, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanLedgerEntry)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(row pgx.CollectableRow) (ledger.Entry, error) {
	var (
		e       ledger.Entry
		typ     string
		status  string
		orderID *int64
	)
	err := row.Scan(
		&e.ID, &typ, &status, &e.Amount, &e.OriginalAmount, &e.DiscountAmount, &e.Currency,
		&e.Description, &orderID, &e.PaymentRequestID, &e.UserID, &e.PaymentMethod,
		&e.ExternalReference, &e.Customer.Name, &e.Customer.Email, &e.Customer.Phone,
		&e.Metadata, &e.CreatedAt,
	)
	e.Type = ledger.Type(typ)
	e.Status = ledger.Status(status)
	if orderID != nil {
		e.OrderID = strconv.FormatInt(*orderID, 10)
	}
	return e, err
}
