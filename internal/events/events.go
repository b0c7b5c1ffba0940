// Package events carries the domain events emitted after an order commits.
// Delivery is best effort: a publish failure never rolls back the write that
// produced the event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
)

const (
	TypeOrderPlaced          = "order.placed"
	TypePaymentStatusChanged = "order.payment_status_changed"
)

type OrderPlacedItem struct {
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Title     string     `json:"title"`
	Quantity  int        `json:"quantity"`
}

type OrderPlaced struct {
	EventID       string              `json:"event_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	UserID        *uuid.UUID          `json:"user_id,omitempty"`
	SessionID     *string             `json:"session_id,omitempty"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal     `json:"total"`
	Items         []OrderPlacedItem   `json:"items"`
	PlacedAt      time.Time           `json:"placed_at"`
}

type PaymentStatusChanged struct {
	EventID     string              `json:"event_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	OldStatus   model.PaymentStatus `json:"old_status"`
	NewStatus   model.PaymentStatus `json:"new_status"`
	ChangedAt   time.Time           `json:"changed_at"`
}

// Publisher delivers domain events to their consumers.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, evt OrderPlaced) error
	PublishPaymentStatusChanged(ctx context.Context, evt PaymentStatusChanged) error
}

func NewID() string { return ulid.Make().String() }

func NewOrderPlaced(o *model.Order, now time.Time) OrderPlaced {
	items := make([]OrderPlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderPlacedItem{
			ProductID: it.ProductID, VariantID: it.VariantID, Title: it.Title, Quantity: it.Quantity,
		})
	}
	return OrderPlaced{
		EventID:       NewID(),
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		UserID:        o.UserID,
		SessionID:     o.SessionID,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		Items:         items,
		PlacedAt:      now,
	}
}

func NewPaymentStatusChanged(o *model.Order, old model.PaymentStatus, now time.Time) PaymentStatusChanged {
	return PaymentStatusChanged{
		EventID:     NewID(),
		OrderID:     o.ID,
		OrderNumber: o.Number,
		OldStatus:   old,
		NewStatus:   o.PaymentStatus,
		ChangedAt:   now,
	}
}
