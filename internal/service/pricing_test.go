package service

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/model"
)

func twentyTimesTwo() []model.CartLine {
	return []model.CartLine{{ProductID: uuid.New(), Quantity: 2, UnitPrice: dec("20.00")}}
}

func TestPricing_FixedCouponExample(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	coupon, err := env.pricing.ResolveCoupon(ctx, "FIXED10")
	require.NoError(t, err)

	totals, err := env.pricing.Price(ctx, twentyTimesTwo(), coupon, "US")
	require.NoError(t, err)
	assert.Equal(t, "40.00", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "10.00", totals.Discount.StringFixed(2))
	assert.Equal(t, "5.00", totals.Shipping.StringFixed(2))
	assert.Equal(t, "2.40", totals.Tax.StringFixed(2))
	assert.Equal(t, "37.40", totals.Total.StringFixed(2))
	assert.Equal(t, "FIXED10", totals.CouponCode)
}

func TestPricing_PercentCouponCapped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	coupon, err := env.pricing.ResolveCoupon(ctx, "percent50")
	require.NoError(t, err)

	totals, err := env.pricing.Price(ctx, twentyTimesTwo(), coupon, "US")
	require.NoError(t, err)
	assert.Equal(t, "15.00", totals.Discount.StringFixed(2))
	assert.Equal(t, "2.00", totals.Tax.StringFixed(2))
	assert.Equal(t, "32.00", totals.Total.StringFixed(2))
}

func TestPricing_ResolveCoupon_Invalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	limit := 3
	env.store.addCoupon(model.Coupon{Code: "USEDUP", Type: model.CouponFixed, Value: dec("1"), Active: true, UsageLimit: &limit, UsedCount: 3})
	env.store.addCoupon(model.Coupon{Code: "OFF", Type: model.CouponFixed, Value: dec("1"), Active: false})

	for _, code := range []string{"", "NOPE", "USEDUP", "OFF"} {
		_, err := env.pricing.ResolveCoupon(ctx, code)
		assert.ErrorIs(t, err, ErrInvalidCoupon, code)
	}
}

func TestPricing_ShippingZonesAndFallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		country  string
		subtotal string
		want     string
	}{
		{"US", "40.00", "5.00"},
		{"us", "50.00", "0.00"},
		{"DE", "40.00", "7.00"},
		{"DE", "100.00", "0.00"},
		{"", "10.00", "7.00"},
	}
	for _, tt := range tests {
		got, err := env.pricing.ShippingRate(ctx, tt.country, dec(tt.subtotal))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got.StringFixed(2), "%s @ %s", tt.country, tt.subtotal)
	}
}

func TestPricing_TaxRateFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t)
	env.pricing.cfg.DefaultTaxPercent = dec("20")
	ctx := context.Background()

	rate, err := env.pricing.TaxRate(ctx, "FR")
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(rate))

	rate, err = env.pricing.TaxRate(ctx, "")
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(rate))

	rate, err = env.pricing.TaxRate(ctx, "us")
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(rate))
}

func TestPricing_LookupsAreCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.pricing.TaxRate(ctx, "US")
		require.NoError(t, err)
		_, err = env.pricing.TaxRate(ctx, "FR")
		require.NoError(t, err)
		_, err = env.pricing.ShippingRate(ctx, "US", dec("10"))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, env.store.taxLookups)
	assert.Equal(t, 1, env.store.zoneLookups)

	env.redis.FlushAll()
	_, err := env.pricing.TaxRate(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, 3, env.store.taxLookups)
}

// ctxRates fails lookups whose context is already done, like a real driver.
type ctxRates struct{ *memStore }

func (r ctxRates) GetTaxRate(ctx context.Context, country string) (*model.TaxRate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memStore.GetTaxRate(ctx, country)
}

func (r ctxRates) ListShippingZones(ctx context.Context) ([]model.ShippingZone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memStore.ListShippingZones(ctx)
}

func TestPricing_SharedLookupOutlivesCancelledCaller(t *testing.T) {
	env := newTestEnv(t)
	client := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewPricingService(ctxRates{env.store}, env.coupons, cache.New(client, "ctx:"), testPricingConfig, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rate, err := svc.TaxRate(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, "8", rate.String())

	shipping, err := svc.ShippingRate(ctx, "US", dec("40"))
	require.NoError(t, err)
	assert.Equal(t, "5.00", shipping.StringFixed(2))

	// the result was cached for the callers that shared the lookup
	_, err = svc.TaxRate(context.Background(), "US")
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.taxLookups)
}

func TestPricing_CacheExpiresAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.pricing.ShippingRate(ctx, "US", dec("10"))
	require.NoError(t, err)
	env.redis.FastForward(testPricingConfig.CacheTTL + time.Second)
	_, err = env.pricing.ShippingRate(ctx, "US", dec("10"))
	require.NoError(t, err)
	assert.Equal(t, 2, env.store.zoneLookups)
}

func TestPricing_CacheOutageFallsBackToTables(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.redis.Close()

	rate, err := env.pricing.TaxRate(ctx, "US")
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(rate))

	shipping, err := env.pricing.ShippingRate(ctx, "US", dec("10"))
	require.NoError(t, err)
	assert.Equal(t, "5.00", shipping.StringFixed(2))
}

func TestPricing_EmptyCartIsZero(t *testing.T) {
	env := newTestEnv(t)
	totals, err := env.pricing.Price(context.Background(), nil, nil, "US")
	require.NoError(t, err)
	assert.True(t, totals.Total.IsZero())
	assert.True(t, totals.Shipping.IsZero())
}

func TestPricing_TotalsInvariant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	coupons := []*model.Coupon{
		nil,
		{Code: "F", Type: model.CouponFixed, Value: dec("10.00")},
		{Code: "F2", Type: model.CouponFixed, Value: dec("500.00")},
		{Code: "P", Type: model.CouponPercent, Value: dec("33")},
		{Code: "PC", Type: model.CouponPercent, Value: dec("50"), MaxDiscount: decimal.NewNullDecimal(dec("15.00"))},
	}
	countries := []string{"US", "DE", ""}

	for i := 0; i < 500; i++ {
		n := rng.Intn(4) + 1
		lines := make([]model.CartLine, n)
		for j := range lines {
			cents := rng.Int63n(20000) + 1
			lines[j] = model.CartLine{
				ProductID: uuid.New(),
				Quantity:  rng.Intn(5) + 1,
				UnitPrice: decimal.New(cents, -2),
			}
		}
		coupon := coupons[rng.Intn(len(coupons))]
		country := countries[rng.Intn(len(countries))]

		totals, err := env.pricing.Price(ctx, lines, coupon, country)
		require.NoError(t, err)

		want := totals.Subtotal.Sub(totals.Discount).Add(totals.Shipping).Add(totals.Tax).Round(2)
		require.True(t, want.Equal(totals.Total), "iteration %d: %s != %s", i, want, totals.Total)
		require.True(t, totals.Discount.LessThanOrEqual(totals.Subtotal), "iteration %d", i)
		require.False(t, totals.Total.IsNegative(), "iteration %d", i)
	}
}
