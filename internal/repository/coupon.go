package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

type CouponRepository interface {
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
}

type pgCouponRepo struct{ pool *pgxpool.Pool }

func NewCouponRepository(pool *pgxpool.Pool) CouponRepository {
	return &pgCouponRepo{pool: pool}
}

func (r *pgCouponRepo) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	c := &model.Coupon{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, code, type, value, max_discount, usage_limit, used_count, starts_at, expires_at, active, created_at, updated_at
		 FROM coupons WHERE code = $1`, code,
	).Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.MaxDiscount, &c.UsageLimit, &c.UsedCount,
		&c.StartsAt, &c.ExpiresAt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

func (r *pgCouponRepo) IncrementUsage(ctx context.Context, code string) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = NOW() WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	return nil
}
