package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

// PlacementEffects runs the side effects that follow a settled order: coupon
// usage, cart clear and the OrderPlaced event. They happen after commit and
// are not part of the order's atomicity, so failures are logged and dropped.
type PlacementEffects struct {
	coupons   repository.CouponRepository
	carts     repository.CartRepository
	sessions  CheckoutSessions
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPlacementEffects(
	coupons repository.CouponRepository,
	carts repository.CartRepository,
	sessions CheckoutSessions,
	publisher events.Publisher,
	logger *slog.Logger,
) *PlacementEffects {
	return &PlacementEffects{
		coupons: coupons, carts: carts, sessions: sessions, publisher: publisher, logger: logger, now: time.Now,
	}
}

func (e *PlacementEffects) Apply(ctx context.Context, order *model.Order) {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With("order_id", order.ID, "order_number", order.Number)

	if order.CouponCode != "" {
		if err := e.coupons.IncrementUsage(ctx, order.CouponCode); err != nil {
			log.Error("increment coupon usage failed", "coupon", order.CouponCode, "error", err)
		}
	}

	owner := order.Owner()
	if owner.Valid() {
		if err := e.carts.Clear(ctx, owner); err != nil {
			log.Error("clear cart failed", "error", err)
		}
		if e.sessions != nil {
			if err := e.sessions.ClearCoupon(ctx, owner); err != nil {
				log.Warn("clear session coupon failed", "error", err)
			}
		}
	}

	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishOrderPlaced(ctx, events.NewOrderPlaced(order, e.now())); err != nil {
		log.Error("publish order placed failed", "error", err)
	}
}

// PaymentChanged publishes a PaymentStatusChanged event when the status
// actually moved.
func (e *PlacementEffects) PaymentChanged(ctx context.Context, order *model.Order, old model.PaymentStatus) {
	if e.publisher == nil || old == order.PaymentStatus {
		return
	}
	evt := events.NewPaymentStatusChanged(order, old, e.now())
	if err := e.publisher.PublishPaymentStatusChanged(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Error("publish payment status change failed",
			"order_id", order.ID, "old_status", old, "new_status", order.PaymentStatus, "error", err)
	}
}
