package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

// ProductRepository is read-only catalog access plus the stock adjustments
// made by checkout and cancellation.
type ProductRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	GetVariant(ctx context.Context, id uuid.UUID) (*model.Variant, error)
	ListVariants(ctx context.Context, productID uuid.UUID) ([]model.Variant, error)
	List(ctx context.Context, limit, offset int, search, sort, order string) ([]model.Product, int, error)
	LockProduct(ctx context.Context, id uuid.UUID) (*model.Product, error)
	LockVariant(ctx context.Context, id uuid.UUID) (*model.Variant, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, delta int) error
}

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

const productColumns = `id, name, description, sku, price, sale_price, stock, allow_backorder, image_path, created_at, updated_at`

const variantColumns = `id, product_id, sku, options, price, sale_price, stock, allow_backorder, image_path`

func scanProduct(row pgx.Row) (*model.Product, error) {
	p := &model.Product{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.SKU, &p.Price, &p.SalePrice,
		&p.Stock, &p.AllowBackorder, &p.ImagePath, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func scanVariant(row pgx.Row) (*model.Variant, error) {
	v := &model.Variant{}
	err := row.Scan(
		&v.ID, &v.ProductID, &v.SKU, &v.Options, &v.Price, &v.SalePrice,
		&v.Stock, &v.AllowBackorder, &v.ImagePath,
	)
	return v, err
}

func (r *pgProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p, err := scanProduct(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepo) GetVariant(ctx context.Context, id uuid.UUID) (*model.Variant, error) {
	v, err := scanVariant(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

func (r *pgProductRepo) ListVariants(ctx context.Context, productID uuid.UUID) ([]model.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE product_id = $1 ORDER BY sku, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var variants []model.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// LockProduct reads the product row FOR UPDATE. It only serializes callers
// when ctx carries a transaction.
func (r *pgProductRepo) LockProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p, err := scanProduct(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepo) LockVariant(ctx context.Context, id uuid.UUID) (*model.Variant, error) {
	v, err := scanVariant(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+variantColumns+` FROM product_variants WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock variant: %w", err)
	}
	return v, nil
}

func (r *pgProductRepo) List(ctx context.Context, limit, offset int, search, sort, order string) ([]model.Product, int, error) {
	allowedSorts := map[string]bool{"name": true, "price": true, "created_at": true}
	if !allowedSorts[sort] {
		sort = "created_at"
	}
	if order != "asc" && order != "desc" {
		order = "desc"
	}

	var total int
	countQ := `SELECT COUNT(*) FROM products WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')`
	if err := r.pool.QueryRow(ctx, countQ, search).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR name ILIKE '%%' || $1 || '%%' OR description ILIKE '%%' || $1 || '%%')
		ORDER BY %s %s LIMIT $2 OFFSET $3`, sort, order)

	rows, err := r.pool.Query(ctx, query, search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

// AdjustStock adds delta to the variant's stock when variantID is set, else
// to the product's. Backorders may drive stock below zero.
func (r *pgProductRepo) AdjustStock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, delta int) error {
	q := conn(ctx, r.pool)
	var (
		err    error
		target = "product"
	)
	if variantID != nil {
		target = "variant"
		_, err = q.Exec(ctx,
			`UPDATE product_variants SET stock = stock + $2 WHERE id = $1`, *variantID, delta)
	} else {
		_, err = q.Exec(ctx,
			`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`, productID, delta)
	}
	if err != nil {
		return fmt.Errorf("adjust %s stock: %w", target, err)
	}
	return nil
}
