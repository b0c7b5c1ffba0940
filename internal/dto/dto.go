package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

// --- Product ---

type ListProductsRequest struct {
	Page   int    `form:"page,default=1" binding:"min=1"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Search string `form:"search"`
	Sort   string `form:"sort,default=created_at" binding:"oneof=name price created_at"`
	Order  string `form:"order,default=desc" binding:"oneof=asc desc"`
}

type ProductResponse struct {
	ID             uuid.UUID         `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	SKU            string            `json:"sku"`
	Price          decimal.Decimal   `json:"price"`
	SalePrice      *decimal.Decimal  `json:"sale_price,omitempty"`
	EffectivePrice decimal.Decimal   `json:"effective_price"`
	Stock          int               `json:"stock"`
	AllowBackorder bool              `json:"allow_backorder"`
	ImagePath      string            `json:"image_path,omitempty"`
	Variants       []VariantResponse `json:"variants,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type VariantResponse struct {
	ID             uuid.UUID         `json:"id"`
	SKU            string            `json:"sku"`
	Options        map[string]string `json:"options"`
	EffectivePrice decimal.Decimal   `json:"effective_price"`
	Stock          int               `json:"stock"`
	AllowBackorder bool              `json:"allow_backorder"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// --- Cart ---

type AddCartItemRequest struct {
	ProductID uuid.UUID  `json:"product_id" binding:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Quantity  int        `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type ApplyCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

type SetCountryRequest struct {
	Country string `json:"country" binding:"required,len=2"`
}

type CartTotalsQuery struct {
	Coupon  string `form:"coupon"`
	Country string `form:"country"`
}

type CartItemResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	VariantID *uuid.UUID      `json:"variant_id,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type TotalsResponse struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Shipping       decimal.Decimal `json:"shipping"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	Country        string          `json:"country,omitempty"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	CouponRejected bool            `json:"coupon_rejected,omitempty"`
}

type CartResponse struct {
	Items  []CartItemResponse `json:"items"`
	Totals TotalsResponse     `json:"totals"`
}

// --- Checkout ---

type CheckoutRequest struct {
	PaymentMethod   model.PaymentMethod `json:"payment_method" binding:"required,oneof=cod bank_transfer card"`
	ShippingAddress AddressRequest      `json:"shipping_address" binding:"required"`
	BillingAddress  *AddressRequest     `json:"billing_address"`
	CouponCode      string              `json:"coupon_code"`
	Notes           string              `json:"notes" binding:"max=1000"`
}

type AddressRequest struct {
	Name       string `json:"name" binding:"required"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" binding:"required"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required,len=2"`
	Phone      string `json:"phone"`
}

func (a AddressRequest) ToModel() model.Address {
	return model.Address{
		Name: a.Name, Line1: a.Line1, Line2: a.Line2, City: a.City,
		Region: a.Region, PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
	}
}

type PaymentResponse struct {
	Status       string `json:"status"`
	IntentID     string `json:"intent_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Message      string `json:"message,omitempty"`
}

type CheckoutResponse struct {
	Order          OrderResponse    `json:"order"`
	Payment        *PaymentResponse `json:"payment,omitempty"`
	CouponRejected bool             `json:"coupon_rejected,omitempty"`
}

// --- Order ---

type UpdateOrderStatusRequest struct {
	Status model.OrderStatus `json:"status" binding:"required"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	Number          string              `json:"number"`
	Status          model.OrderStatus   `json:"status"`
	PaymentStatus   model.PaymentStatus `json:"payment_status"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Discount        decimal.Decimal     `json:"discount"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Tax             decimal.Decimal     `json:"tax"`
	Total           decimal.Decimal     `json:"total"`
	CouponCode      string              `json:"coupon_code,omitempty"`
	ShippingAddress model.Address       `json:"shipping_address"`
	BillingAddress  model.Address       `json:"billing_address"`
	Notes           string              `json:"notes,omitempty"`
	Items           []OrderItemResponse `json:"items,omitempty"`
	PaidAt          *time.Time          `json:"paid_at,omitempty"`
	ShippedAt       *time.Time          `json:"shipped_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type OrderItemResponse struct {
	ID             uuid.UUID         `json:"id"`
	ProductID      *uuid.UUID        `json:"product_id,omitempty"`
	VariantID      *uuid.UUID        `json:"variant_id,omitempty"`
	Title          string            `json:"title"`
	SKU            string            `json:"sku"`
	ImagePath      string            `json:"image_path,omitempty"`
	VariantOptions map[string]string `json:"variant_options,omitempty"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	Quantity       int               `json:"quantity"`
	LineTotal      decimal.Decimal   `json:"line_total"`
	Status         model.ItemStatus  `json:"status"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
}

func ToOrderResponse(o *model.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ID: it.ID, ProductID: it.ProductID, VariantID: it.VariantID,
			Title: it.Title, SKU: it.SKU, ImagePath: it.ImagePath, VariantOptions: it.VariantOptions,
			UnitPrice: it.UnitPrice, Quantity: it.Quantity, LineTotal: it.LineTotal, Status: it.Status,
		})
	}
	return OrderResponse{
		ID: o.ID, Number: o.Number, Status: o.Status, PaymentStatus: o.PaymentStatus, PaymentMethod: o.PaymentMethod,
		Subtotal: o.Subtotal, Discount: o.Discount, Shipping: o.Shipping, Tax: o.Tax, Total: o.Total,
		CouponCode: o.CouponCode, ShippingAddress: o.ShippingAddress, BillingAddress: o.BillingAddress, Notes: o.Notes,
		Items: items, PaidAt: o.PaidAt, ShippedAt: o.ShippedAt, CompletedAt: o.CompletedAt, CancelledAt: o.CancelledAt,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
}

func ToTotalsResponse(t model.CartTotals) TotalsResponse {
	return TotalsResponse{
		Subtotal: t.Subtotal, Discount: t.Discount, Shipping: t.Shipping, Tax: t.Tax, Total: t.Total,
		TaxRate: t.TaxRate, Country: t.Country, CouponCode: t.CouponCode, CouponRejected: t.CouponRejected,
	}
}
