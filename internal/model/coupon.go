package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponType string

const (
	CouponFixed   CouponType = "fixed"
	CouponPercent CouponType = "percent"
)

type Coupon struct {
	ID          uuid.UUID
	Code        string
	Type        CouponType
	Value       decimal.Decimal
	MaxDiscount decimal.NullDecimal
	UsageLimit  *int
	UsedCount   int
	StartsAt    *time.Time
	ExpiresAt   *time.Time
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsValidAt reports whether the coupon can be redeemed at now.
func (c *Coupon) IsValidAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return false
	}
	return true
}

// ApplyToAmount returns amount after the coupon's discount. The result never
// drops below zero.
func (c *Coupon) ApplyToAmount(amount decimal.Decimal) decimal.Decimal {
	var off decimal.Decimal
	switch c.Type {
	case CouponFixed:
		off = c.Value
	case CouponPercent:
		off = Round2(amount.Mul(c.Value).Div(decimal.NewFromInt(100)))
		if c.MaxDiscount.Valid && off.GreaterThan(c.MaxDiscount.Decimal) {
			off = c.MaxDiscount.Decimal
		}
	default:
		return amount
	}
	return Round2(decimal.Max(amount.Sub(off), decimal.Zero))
}

// DiscountFor is the amount the coupon takes off subtotal.
func (c *Coupon) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	return Round2(subtotal.Sub(c.ApplyToAmount(subtotal)))
}
