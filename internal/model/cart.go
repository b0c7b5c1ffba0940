package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartLine struct {
	ID        uuid.UUID
	Owner     Owner
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *CartLine) LineTotal() decimal.Decimal {
	return Round2(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// SameVariant reports whether the line points at variant id (nil meaning the
// bare product).
func (l *CartLine) SameVariant(id *uuid.UUID) bool {
	if l.VariantID == nil || id == nil {
		return l.VariantID == nil && id == nil
	}
	return *l.VariantID == *id
}

// CartTotals is always derived from the lines, never stored.
type CartTotals struct {
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	Shipping       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	TaxRate        decimal.Decimal
	Country        string
	CouponCode     string
	CouponRejected bool
}

// ClampQuantity enforces the minimum quantity of one.
func ClampQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
