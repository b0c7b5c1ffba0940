package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

type PricingRepository interface {
	GetTaxRate(ctx context.Context, country string) (*model.TaxRate, error)
	ListShippingZones(ctx context.Context) ([]model.ShippingZone, error)
}

type pgPricingRepo struct{ pool *pgxpool.Pool }

func NewPricingRepository(pool *pgxpool.Pool) PricingRepository {
	return &pgPricingRepo{pool: pool}
}

func (r *pgPricingRepo) GetTaxRate(ctx context.Context, country string) (*model.TaxRate, error) {
	rate := &model.TaxRate{}
	err := r.pool.QueryRow(ctx,
		`SELECT country, percent FROM tax_rates WHERE country = $1`, strings.ToUpper(country),
	).Scan(&rate.Country, &rate.Percent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tax rate: %w", err)
	}
	return rate, nil
}

func (r *pgPricingRepo) ListShippingZones(ctx context.Context) ([]model.ShippingZone, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, countries, flat_rate, free_threshold FROM shipping_zones ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list shipping zones: %w", err)
	}
	defer rows.Close()

	var zones []model.ShippingZone
	for rows.Next() {
		var z model.ShippingZone
		if err := rows.Scan(&z.ID, &z.Name, &z.Countries, &z.FlatRate, &z.FreeThreshold); err != nil {
			return nil, fmt.Errorf("scan shipping zone: %w", err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
