package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID             uuid.UUID
	Name           string
	Description    string
	SKU            string
	Price          decimal.Decimal
	SalePrice      decimal.NullDecimal
	Stock          int
	AllowBackorder bool
	ImagePath      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectivePrice is the sale price when set and positive, else the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice.Valid && p.SalePrice.Decimal.IsPositive() {
		return p.SalePrice.Decimal
	}
	return p.Price
}

type Variant struct {
	ID             uuid.UUID
	ProductID      uuid.UUID
	SKU            string
	Options        map[string]string
	Price          decimal.NullDecimal
	SalePrice      decimal.NullDecimal
	Stock          int
	AllowBackorder bool
	ImagePath      string
}

// EffectivePrice falls back to the parent product when the variant carries no
// price of its own.
func (v *Variant) EffectivePrice(parent *Product) decimal.Decimal {
	if v.SalePrice.Valid && v.SalePrice.Decimal.IsPositive() {
		return v.SalePrice.Decimal
	}
	if v.Price.Valid && v.Price.Decimal.IsPositive() {
		return v.Price.Decimal
	}
	return parent.EffectivePrice()
}

// StockFor reports the stock and backorder policy that govern a purchase of
// product p, optionally narrowed to variant v.
func StockFor(p *Product, v *Variant) (available int, backorder bool) {
	if v != nil {
		return v.Stock, v.AllowBackorder || p.AllowBackorder
	}
	return p.Stock, p.AllowBackorder
}
