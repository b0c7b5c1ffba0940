package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

const (
	shippingZonesKey = "pricing:zones"
	taxKeyPrefix     = "pricing:tax:"
)

var hundred = decimal.NewFromInt(100)

// cachedTaxRate remembers misses too, so a country without an override row
// does not hit the table on every request.
type cachedTaxRate struct {
	Found   bool            `json:"found"`
	Percent decimal.Decimal `json:"percent"`
}

// PricingService resolves tax, shipping and coupons for cart totals. Lookups
// are cached for a short TTL; the cache is an optimisation only and any cache
// failure falls through to the tables.
type PricingService struct {
	rates   repository.PricingRepository
	coupons repository.CouponRepository
	cache   *cache.Cache
	cfg     config.PricingConfig
	sfg     singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

func NewPricingService(rates repository.PricingRepository, coupons repository.CouponRepository, c *cache.Cache, cfg config.PricingConfig, logger *slog.Logger) *PricingService {
	return &PricingService{rates: rates, coupons: coupons, cache: c, cfg: cfg, logger: logger, now: time.Now}
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

// DefaultCountry is used when neither the request nor the session names one.
func (s *PricingService) DefaultCountry() string {
	return normalizeCountry(s.cfg.DefaultCountry)
}

// TaxRate returns the tax percent for country, falling back to the configured
// default when no country is given or no override row exists.
func (s *PricingService) TaxRate(ctx context.Context, country string) (decimal.Decimal, error) {
	country = normalizeCountry(country)
	if country == "" {
		return s.cfg.DefaultTaxPercent, nil
	}

	key := taxKeyPrefix + country
	// The lookup is shared with concurrent callers, so it must not die with
	// the first caller's request.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.sfg.Do(key, func() (any, error) {
		ctx := shared
		var cached cachedTaxRate
		if s.cacheGet(ctx, key, &cached) {
			return cached, nil
		}
		rate, err := s.rates.GetTaxRate(ctx, country)
		if err != nil {
			return nil, fmt.Errorf("get tax rate: %w", err)
		}
		if rate != nil {
			cached = cachedTaxRate{Found: true, Percent: rate.Percent}
		}
		s.cacheSet(ctx, key, cached)
		return cached, nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if rate := v.(cachedTaxRate); rate.Found {
		return rate.Percent, nil
	}
	return s.cfg.DefaultTaxPercent, nil
}

// ShippingRate prices shipping for country at the given (pre-discount)
// subtotal.
func (s *PricingService) ShippingRate(ctx context.Context, country string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	zones, err := s.shippingZones(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	country = normalizeCountry(country)
	if country != "" {
		for _, z := range zones {
			if z.Covers(country) {
				return model.Round2(z.RateFor(subtotal)), nil
			}
		}
	}

	threshold := s.cfg.FreeShippingThreshold
	if threshold.IsPositive() && subtotal.GreaterThanOrEqual(threshold) {
		return decimal.Zero, nil
	}
	return model.Round2(s.cfg.DefaultShippingRate), nil
}

func (s *PricingService) shippingZones(ctx context.Context) ([]model.ShippingZone, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.sfg.Do(shippingZonesKey, func() (any, error) {
		ctx := shared
		var zones []model.ShippingZone
		if s.cacheGet(ctx, shippingZonesKey, &zones) {
			return zones, nil
		}
		zones, err := s.rates.ListShippingZones(ctx)
		if err != nil {
			return nil, fmt.Errorf("list shipping zones: %w", err)
		}
		s.cacheSet(ctx, shippingZonesKey, zones)
		return zones, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ShippingZone), nil
}

// ResolveCoupon returns the coupon for code if it is currently redeemable.
func (s *PricingService) ResolveCoupon(ctx context.Context, code string) (*model.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidCoupon
	}
	c, err := s.coupons.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if c == nil || !c.IsValidAt(s.now()) {
		return nil, ErrInvalidCoupon
	}
	return c, nil
}

// Price derives the cart totals. Every intermediate amount is rounded to
// cents so that total == subtotal - discount + shipping + tax holds exactly.
func (s *PricingService) Price(ctx context.Context, lines []model.CartLine, coupon *model.Coupon, country string) (model.CartTotals, error) {
	country = normalizeCountry(country)
	totals := model.CartTotals{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Shipping: decimal.Zero,
		Tax:      decimal.Zero,
		Total:    decimal.Zero,
		Country:  country,
	}

	rate, err := s.TaxRate(ctx, country)
	if err != nil {
		return totals, err
	}
	totals.TaxRate = rate
	if len(lines) == 0 {
		return totals, nil
	}

	subtotal := decimal.Zero
	for i := range lines {
		subtotal = subtotal.Add(lines[i].LineTotal())
	}
	totals.Subtotal = model.Round2(subtotal)

	if coupon != nil {
		totals.Discount = coupon.DiscountFor(totals.Subtotal)
		totals.CouponCode = coupon.Code
	}

	shipping, err := s.ShippingRate(ctx, country, totals.Subtotal)
	if err != nil {
		return totals, err
	}
	totals.Shipping = shipping

	taxable := model.Round2(totals.Subtotal.Sub(totals.Discount))
	totals.Tax = model.Round2(taxable.Mul(rate).Div(hundred))
	totals.Total = model.Round2(taxable.Add(totals.Shipping).Add(totals.Tax))
	return totals, nil
}

func (s *PricingService) cacheGet(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.GetJSON(ctx, key, dst)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("pricing cache read failed", "key", key, "error", err)
	}
	return false
}

func (s *PricingService) cacheSet(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, v, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("pricing cache write failed", "key", key, "error", err)
	}
}
