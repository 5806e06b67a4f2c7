package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
)

const (
	// Both date bounds are independent OR groups joined by AND.
	listActiveSalesSQL = `SELECT id, title, badge_text, target_type, target_id,
		discount_type, discount_value, max_discount_amount,
		start_date, end_date, is_enabled, priority, created_at
		FROM sales
		WHERE is_enabled
			AND (start_date IS NULL OR start_date <= $1)
			AND (end_date IS NULL OR end_date >= $1)
		ORDER BY priority DESC, created_at DESC, id`

	insertSaleSQL = `INSERT INTO sales (title, badge_text, target_type, target_id,
		discount_type, discount_value, max_discount_amount,
		start_date, end_date, is_enabled, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`
)

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// ListActive returns the sales active at now in evaluation order.
func (r *SaleRepository) ListActive(ctx context.Context, now time.Time) ([]sale.Sale, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listActiveSalesSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active sales: %w", err)
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, fmt.Errorf("listing active sales: %w", err)
	}
	return sales, nil
}

// Create stores a new sale and assigns its ID and CreatedAt.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	if err := s.Discount.Validate(); err != nil {
		return err
	}
	err := conn(ctx, r.pool).QueryRow(ctx, insertSaleSQL,
		s.Title, s.BadgeText, string(s.Target.Kind()), targetID(s.Target),
		string(s.Discount.Type), s.Discount.Value, s.Discount.MaxAmount,
		s.StartDate, s.EndDate, s.Enabled, s.Priority,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating sale %q: %w", s.Title, err)
	}
	return nil
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var (
		s            sale.Sale
		targetType   string
		target       *string
		discountType string
		value        decimal.Decimal
		maxAmount    decimal.NullDecimal
	)
	if err := row.Scan(
		&s.ID, &s.Title, &s.BadgeText, &targetType, &target,
		&discountType, &value, &maxAmount,
		&s.StartDate, &s.EndDate, &s.Enabled, &s.Priority, &s.CreatedAt,
	); err != nil {
		return s, err
	}

	t, err := discount.ParseTarget(targetType, target)
	if err != nil {
		return s, fmt.Errorf("sale %q: %w", s.ID, err)
	}
	typ, err := discount.ParseType(discountType)
	if err != nil {
		return s, fmt.Errorf("sale %q: %w", s.ID, err)
	}
	s.Target = t
	s.Discount = discount.Rule{Type: typ, Value: value, MaxAmount: maxAmount}
	return s, nil
}

// targetID returns the nullable target id column value.
func targetID(t discount.Target) *string {
	if t.Kind() == discount.TargetAll {
		return nil
	}
	id := t.ID()
	return &id
}
