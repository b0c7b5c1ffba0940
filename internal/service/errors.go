package service

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidCoupon        = errors.New("invalid or expired coupon")
	ErrForbidden            = errors.New("access denied")
	ErrInvalidOwner         = errors.New("cart owner must be exactly one of user or session")
	ErrProductNotFound      = errors.New("product not found")
	ErrVariantNotFound      = errors.New("variant not found")
	ErrCartLineNotFound     = errors.New("cart line not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrOrderNotCancellable  = errors.New("order cannot be cancelled")
	ErrOrderNotRefundable   = errors.New("order cannot be refunded")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidCountry       = errors.New("invalid country code")
)

// InsufficientStockError names the cart item that could not be reserved.
type InsufficientStockError struct {
	Item      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Item, e.Requested, e.Available)
}
