package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TaxRate struct {
	Country string
	Percent decimal.Decimal
}

// ShippingZone prices shipping for a set of countries.
type ShippingZone struct {
	ID            uuid.UUID
	Name          string
	Countries     []string
	FlatRate      decimal.Decimal
	FreeThreshold decimal.NullDecimal
}

func (z ShippingZone) Covers(country string) bool {
	for _, c := range z.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

func (z ShippingZone) RateFor(subtotal decimal.Decimal) decimal.Decimal {
	if z.FreeThreshold.Valid && subtotal.GreaterThanOrEqual(z.FreeThreshold.Decimal) {
		return decimal.Zero
	}
	return z.FlatRate
}
