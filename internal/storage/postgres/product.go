package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/domain/product"
)

const (
	productColumns = `p.id, p.name, p.price,
		COALESCE(ARRAY(SELECT pc.category_id FROM product_categories pc
			WHERE pc.product_id = p.id ORDER BY pc.category_id), '{}')`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products p WHERE p.id = ANY($1)`

	upsertProductSQL = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`

	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	linkCategorySQL = `INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product with its category ids.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return products, nil
}

// Upsert stores a product and links it to its categories, which must
// already exist.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	q := conn(ctx, r.pool)
	if _, err := q.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price); err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	for _, c := range p.CategoryIDs {
		if _, err := q.Exec(ctx, linkCategorySQL, p.ID, c); err != nil {
			return fmt.Errorf("linking product %q to category %q: %w", p.ID, c, err)
		}
	}
	return nil
}

// UpsertCategory stores a category.
func (r *ProductRepository) UpsertCategory(ctx context.Context, id, name string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, upsertCategorySQL, id, name); err != nil {
		return fmt.Errorf("upserting category %q: %w", id, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.CategoryIDs)
	return p, err
}
