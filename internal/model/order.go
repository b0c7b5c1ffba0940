package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
)

// IsOffline reports whether the method settles outside the payment provider.
func (m PaymentMethod) IsOffline() bool {
	return m == PaymentMethodCOD || m == PaymentMethodBankTransfer
}

func (m PaymentMethod) Valid() bool {
	return m.IsOffline() || m == PaymentMethodCard
}

type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "active"
	ItemStatusCancelled ItemStatus = "cancelled"
)

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID              uuid.UUID
	Number          string
	UserID          *uuid.UUID
	SessionID       *string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	PaymentMethod   PaymentMethod
	TransactionID   string
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Shipping        decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	CouponCode      string
	ShippingAddress Address
	BillingAddress  Address
	Notes           string
	Items           []OrderItem
	PaidAt          *time.Time
	ShippedAt       *time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem snapshots a purchased line. Product and variant references may
// dangle once the catalog row is gone; the snapshot fields stay authoritative.
type OrderItem struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	ProductID      *uuid.UUID
	VariantID      *uuid.UUID
	Title          string
	SKU            string
	ImagePath      string
	VariantOptions map[string]string
	UnitPrice      decimal.Decimal
	Quantity       int
	LineTotal      decimal.Decimal
	Status         ItemStatus
	CreatedAt      time.Time
}

// Owner returns the cart owner the order was placed by.
func (o *Order) Owner() Owner {
	if o.UserID != nil {
		return UserOwner(*o.UserID)
	}
	if o.SessionID != nil {
		return GuestOwner(*o.SessionID)
	}
	return Owner{}
}

func (o *Order) OwnedBy(owner Owner) bool {
	if owner.IsUser() {
		return o.UserID != nil && *o.UserID == owner.UserID
	}
	return owner.SessionID != "" && o.SessionID != nil && *o.SessionID == owner.SessionID
}

// RecalcTotals rebuilds subtotal and total from the active items, rounding
// at every step.
func (o *Order) RecalcTotals() {
	subtotal := decimal.Zero
	for _, it := range o.Items {
		if it.Status == ItemStatusCancelled {
			continue
		}
		subtotal = subtotal.Add(Round2(it.LineTotal))
	}
	o.Subtotal = Round2(subtotal)
	o.Total = Round2(o.Subtotal.Sub(Round2(o.Discount)).Add(Round2(o.Shipping)).Add(Round2(o.Tax)))
}

// MarkPaid records a settled payment. It returns false and changes nothing
// when the order was already paid.
func (o *Order) MarkPaid(transactionID string, now time.Time) bool {
	if o.PaidAt != nil {
		return false
	}
	o.PaymentStatus = PaymentStatusPaid
	o.TransactionID = transactionID
	o.PaidAt = &now
	if o.Status == OrderStatusPending {
		o.Status = OrderStatusPaid
	}
	return true
}

func (o *Order) MarkPaymentFailed() bool {
	if o.PaymentStatus != PaymentStatusUnpaid {
		return false
	}
	o.PaymentStatus = PaymentStatusFailed
	return true
}

func (o *Order) CanBeCancelled() bool {
	return (o.Status == OrderStatusPending || o.Status == OrderStatusProcessing) &&
		o.PaymentStatus != PaymentStatusPaid
}

func (o *Order) MarkAsCancelled(now time.Time) {
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	for i := range o.Items {
		if o.Items[i].Status == ItemStatusActive {
			o.Items[i].Status = ItemStatusCancelled
		}
	}
}

func (o *Order) CanBeRefunded() bool {
	return o.PaymentStatus == PaymentStatusPaid && !o.Status.Terminal()
}

func (o *Order) MarkRefunded() {
	o.Status = OrderStatusRefunded
	o.PaymentStatus = PaymentStatusRefunded
}

// transitions lists the forward moves; cancellation and refunds go through
// their own guards.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusPaid},
	OrderStatusProcessing: {OrderStatusPaid, OrderStatusShipped},
	OrderStatusPaid:       {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusCompleted},
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusRefunded
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusPaid, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

func (o *Order) CanTransitionTo(next OrderStatus) bool {
	for _, s := range transitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the order forward and stamps the timeline. It reports
// false when the move is not allowed.
func (o *Order) TransitionTo(next OrderStatus, now time.Time) bool {
	if !o.CanTransitionTo(next) {
		return false
	}
	o.Status = next
	switch next {
	case OrderStatusShipped:
		o.ShippedAt = &now
	case OrderStatusCompleted:
		o.CompletedAt = &now
	}
	return true
}
