package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

var ErrDuplicateOrderNumber = errors.New("order number already exists")

const uniqueViolation = "23505"

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	CreateItems(ctx context.Context, items []model.OrderItem) error
	NumberExists(ctx context.Context, number string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByNumber(ctx context.Context, number string) (*model.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	LockByNumber(ctx context.Context, number string) (*model.Order, error)
	ListByOwner(ctx context.Context, owner model.Owner) ([]model.Order, error)
	Update(ctx context.Context, order *model.Order) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

const orderColumns = `id, number, user_id, session_id, status, payment_status, payment_method, transaction_id,
	subtotal, discount, shipping, tax, total, coupon_code, shipping_address, billing_address, notes,
	paid_at, shipped_at, completed_at, cancelled_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	o := &model.Order{}
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.SessionID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.TransactionID,
		&o.Subtotal, &o.Discount, &o.Shipping, &o.Tax, &o.Total, &o.CouponCode, &o.ShippingAddress, &o.BillingAddress, &o.Notes,
		&o.PaidAt, &o.ShippedAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// Create inserts the order row. Inside a transaction the insert runs under a
// savepoint so a number collision can be retried without aborting the
// enclosing transaction.
func (r *pgOrderRepo) Create(ctx context.Context, order *model.Order) error {
	order.ID = uuid.New()
	tx, ok := txFrom(ctx)
	if !ok {
		return r.insertOrder(ctx, r.pool, order)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := r.insertOrder(ctx, sp, order); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (r *pgOrderRepo) insertOrder(ctx context.Context, q Querier, order *model.Order) error {
	err := q.QueryRow(ctx,
		`INSERT INTO orders (id, number, user_id, session_id, status, payment_status, payment_method, transaction_id,
			subtotal, discount, shipping, tax, total, coupon_code, shipping_address, billing_address, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		order.ID, order.Number, order.UserID, order.SessionID, order.Status, order.PaymentStatus, order.PaymentMethod,
		order.TransactionID, order.Subtotal, order.Discount, order.Shipping, order.Tax, order.Total, order.CouponCode,
		order.ShippingAddress, order.BillingAddress, order.Notes,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_number_key" {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *pgOrderRepo) CreateItems(ctx context.Context, items []model.OrderItem) error {
	q := conn(ctx, r.pool)
	for i := range items {
		items[i].ID = uuid.New()
		err := q.QueryRow(ctx,
			`INSERT INTO order_items (id, order_id, product_id, variant_id, title, sku, image_path, variant_options,
				unit_price, quantity, line_total, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()) RETURNING created_at`,
			items[i].ID, items[i].OrderID, items[i].ProductID, items[i].VariantID, items[i].Title, items[i].SKU,
			items[i].ImagePath, items[i].VariantOptions, items[i].UnitPrice, items[i].Quantity, items[i].LineTotal,
			items[i].Status,
		).Scan(&items[i].CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *pgOrderRepo) NumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order number: %w", err)
	}
	return exists, nil
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *pgOrderRepo) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
}

func (r *pgOrderRepo) LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *pgOrderRepo) LockByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1 FOR UPDATE`, number)
}

func (r *pgOrderRepo) getOne(ctx context.Context, query string, arg any) (*model.Order, error) {
	q := conn(ctx, r.pool)
	order, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, order_id, product_id, variant_id, title, sku, image_path, variant_options,
			unit_price, quantity, line_total, status, created_at
		 FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Title, &it.SKU, &it.ImagePath,
			&it.VariantOptions, &it.UnitPrice, &it.Quantity, &it.LineTotal, &it.Status, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, it)
	}
	return order, rows.Err()
}

func (r *pgOrderRepo) ListByOwner(ctx context.Context, owner model.Owner) ([]model.Order, error) {
	where, args := OwnerCriteria(owner).Where(1)
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+orderColumns+` FROM orders `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// Update persists status, payment and monetary fields. Item snapshots are
// immutable apart from their status.
func (r *pgOrderRepo) Update(ctx context.Context, order *model.Order) error {
	q := conn(ctx, r.pool)
	err := q.QueryRow(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, transaction_id = $4,
			subtotal = $5, discount = $6, shipping = $7, tax = $8, total = $9,
			paid_at = $10, shipped_at = $11, completed_at = $12, cancelled_at = $13, updated_at = NOW()
		 WHERE id = $1 RETURNING updated_at`,
		order.ID, order.Status, order.PaymentStatus, order.TransactionID,
		order.Subtotal, order.Discount, order.Shipping, order.Tax, order.Total,
		order.PaidAt, order.ShippedAt, order.CompletedAt, order.CancelledAt,
	).Scan(&order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	for _, it := range order.Items {
		if _, err := q.Exec(ctx,
			`UPDATE order_items SET status = $2 WHERE id = $1 AND status <> $2`, it.ID, it.Status); err != nil {
			return fmt.Errorf("update order item status: %w", err)
		}
	}
	return nil
}
