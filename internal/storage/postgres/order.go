package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qpay-checkout/internal/domain/order"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
)

const (
	insertContactSQL = `INSERT INTO order_contacts (name, address, phone, email, notes)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	insertOrderSQL = `INSERT INTO orders (user_id, contact_id, subtotal, sale_discount, promo_discount,
		promo_code_id, promo_code_used, total, vat, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	orderColumns = `o.id, o.user_id, o.subtotal, o.sale_discount, o.promo_discount,
		o.promo_code_id, o.promo_code_used, o.total, o.vat, o.status, o.created_at, o.updated_at,
		c.id, c.name, c.address, c.phone, c.email, c.notes`

	getOrderSQL = `SELECT ` + orderColumns + `
		FROM orders o JOIN order_contacts c ON c.id = o.contact_id
		WHERE o.id = $1`

	listOrdersByPhoneSQL = `SELECT ` + orderColumns + `
		FROM orders o JOIN order_contacts c ON c.id = o.contact_id
		WHERE c.phone = $1
		ORDER BY o.created_at DESC, o.id DESC`

	listOrderItemsSQL = `SELECT order_id, product_id, product_name, quantity,
		original_price, price, sale_discount, sale_id
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, position`

	// The sub-select locks the row and yields the status before the update.
	updateOrderStatusSQL = `UPDATE orders o SET status = $2, updated_at = now()
		FROM (SELECT id, status FROM orders WHERE id = $1 FOR UPDATE) prev
		WHERE o.id = prev.id
		RETURNING prev.status`

	markProcessingSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ payment.OrderAdvancer = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateContact stores a new contact snapshot and assigns its ID.
func (r *OrderRepository) CreateContact(ctx context.Context, c *order.Contact) error {
	err := conn(ctx, r.pool).QueryRow(ctx, insertContactSQL,
		c.Name, c.Address, c.Phone, c.Email, c.Notes,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("creating order contact: %w", err)
	}
	return nil
}

// Create persists a new order with its line items. The contact must have
// been created first.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	var id int64
	err := q.QueryRow(ctx, insertOrderSQL,
		o.UserID, o.Contact.ID, o.Subtotal, o.SaleDiscount, o.PromoDiscount,
		o.PromoCodeID, o.PromoCodeUsed, o.Total, o.VAT, string(o.Status),
	).Scan(&id, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	rows := make([][]any, len(o.Items))
	for i, li := range o.Items {
		rows[i] = []any{
			id, i, li.ProductID, li.Name, li.Quantity,
			li.OriginalPrice, li.Price, li.SaleDiscount, li.SaleID,
		}
	}
	_, err = q.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "position", "product_id", "product_name", "quantity",
			"original_price", "price", "sale_discount", "sale_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("creating items for order %d: %w", id, err)
	}

	o.ID = strconv.FormatInt(id, 10)
	return nil
}

// Get returns an order with its contact and items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	key, ok := orderKey(id)
	if !ok {
		return nil, order.ErrNotFound
	}
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderSQL, key)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByPhone returns the orders placed with the given contact phone,
// newest first.
func (r *OrderRepository) ListByPhone(ctx context.Context, phone string) ([]order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, listOrdersByPhoneSQL, phone)
	if err != nil {
		return nil, fmt.Errorf("listing orders by phone: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders by phone: %w", err)
	}
	if err := r.attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus sets the order status and returns the previous one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) (order.Status, error) {
	key, ok := orderKey(id)
	if !ok {
		return "", order.ErrNotFound
	}

	var prev string
	err := conn(ctx, r.pool).QueryRow(ctx, updateOrderStatusSQL, key, string(status)).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", order.ErrNotFound
		}
		return "", fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return order.Status(prev), nil
}

// MarkProcessing advances an order awaiting payment to Processing. Orders
// in any other status are left alone.
func (r *OrderRepository) MarkProcessing(ctx context.Context, orderID string) error {
	key, ok := orderKey(orderID)
	if !ok {
		return order.ErrNotFound
	}
	_, err := conn(ctx, r.pool).Exec(ctx, markProcessingSQL,
		key, string(order.StatusProcessing), string(order.StatusAwaitingPayment),
	)
	if err != nil {
		return fmt.Errorf("advancing order %q: %w", orderID, err)
	}
	return nil
}

func (r *OrderRepository) attachItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	keys := make([]int64, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		keys[i], _ = orderKey(o.ID)
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, keys)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			li      order.LineItem
		)
		if err := rows.Scan(
			&orderID, &li.ProductID, &li.Name, &li.Quantity,
			&li.OriginalPrice, &li.Price, &li.SaleDiscount, &li.SaleID,
		); err != nil {
			return fmt.Errorf("scanning order item: %w", err)
		}
		i := index[strconv.FormatInt(orderID, 10)]
		orders[i].Items = append(orders[i].Items, li)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		id     int64
		status string
	)
	err := row.Scan(
		&id, &o.UserID, &o.Subtotal, &o.SaleDiscount, &o.PromoDiscount,
		&o.PromoCodeID, &o.PromoCodeUsed, &o.Total, &o.VAT, &status, &o.CreatedAt, &o.UpdatedAt,
		&o.Contact.ID, &o.Contact.Name, &o.Contact.Address, &o.Contact.Phone, &o.Contact.Email, &o.Contact.Notes,
	)
	o.ID = strconv.FormatInt(id, 10)
	o.Status = order.Status(status)
	return o, err
}
