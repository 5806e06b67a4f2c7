package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/discount"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
)

const (
	promoColumns = `id, code, description, discount_type, discount_value,
		applicable_type, applicable_id, min_purchase_amount, expiration_date,
		usage_limit, times_used, is_active, created_at`

	getPromoByCodeSQL = `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = $1`

	// The guard keeps times_used <= usage_limit under concurrent checkouts.
	incrementPromoUsesSQL = `UPDATE promo_codes SET times_used = times_used + 1
		WHERE id = $1 AND (usage_limit IS NULL OR times_used < usage_limit)`

	insertPromoSQL = `INSERT INTO promo_codes (code, description, discount_type, discount_value,
		applicable_type, applicable_id, min_purchase_amount, expiration_date, usage_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (code) DO NOTHING
		RETURNING id, created_at`

	listPromoCodesSQL = `SELECT code FROM promo_codes`
)

var _ promo.Repository = (*PromoRepository)(nil)

// PromoRepository implements promo.Repository backed by PostgreSQL.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promo code by its normalized form.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getPromoByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanPromo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrNotFound
		}
		return nil, fmt.Errorf("finding promo code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUses records one redemption unless the usage limit is reached.
func (r *PromoRepository) IncrementUses(ctx context.Context, id string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, incrementPromoUsesSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing uses for promo code %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrUsageLimitReached
	}
	return nil
}

// Create stores a new code under its normalized form.
func (r *PromoRepository) Create(ctx context.Context, c *promo.Code) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.Code = promo.Normalize(c.Code)

	discountType := "fixed"
	if c.Discount.Type == discount.Percentage {
		discountType = "percent"
	}
	err := conn(ctx, r.pool).QueryRow(ctx, insertPromoSQL,
		c.Code, c.Description, discountType, c.Discount.Value,
		string(c.Applicable.Kind()), targetID(c.Applicable), c.MinPurchase, c.ExpiresAt,
		c.UsageLimit, c.Active,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.ErrDuplicateCode
		}
		return fmt.Errorf("creating promo code %q: %w", c.Code, err)
	}
	return nil
}

// ListCodes returns every stored code. It feeds the bulk importer's
// de-duplication filter.
func (r *PromoRepository) ListCodes(ctx context.Context, fn func(code string) error) error {
	rows, err := conn(ctx, r.pool).Query(ctx, listPromoCodesSQL)
	if err != nil {
		return fmt.Errorf("listing promo codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error { return fn(code) })
	if err != nil {
		return fmt.Errorf("listing promo codes: %w", err)
	}
	return nil
}

func scanPromo(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c              promo.Code
		discountType   string
		value          decimal.Decimal
		applicableType string
		applicableID   *string
	)
	if err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &value,
		&applicableType, &applicableID, &c.MinPurchase, &c.ExpiresAt,
		&c.UsageLimit, &c.TimesUsed, &c.Active, &c.CreatedAt,
	); err != nil {
		return c, err
	}

	typ, err := discount.ParseType(discountType)
	if err != nil {
		return c, fmt.Errorf("promo code %q: %w", c.Code, err)
	}
	target, err := discount.ParseTarget(applicableType, applicableID)
	if err != nil {
		return c, fmt.Errorf("promo code %q: %w", c.Code, err)
	}
	c.Discount = discount.Rule{Type: typ, Value: value}
	c.Applicable = target
	return c, nil
}
