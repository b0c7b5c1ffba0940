package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

// OrderService applies post-placement changes to orders: payment
// confirmation, admin status moves, cancellation, refunds and totals
// recomputation. Every mutation runs under a row lock on the order.
type OrderService struct {
	tx       repository.Transactor
	orders   repository.OrderRepository
	products repository.ProductRepository
	effects  *PlacementEffects
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrderService(
	tx repository.Transactor,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	effects *PlacementEffects,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{tx: tx, orders: orders, products: products, effects: effects, logger: logger, now: time.Now}
}

// Get returns the order if owner placed it.
func (s *OrderService) Get(ctx context.Context, owner model.Owner, id uuid.UUID) (*model.Order, error) {
	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(owner) {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) GetByNumber(ctx context.Context, number string) (*model.Order, error) {
	order, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, owner model.Owner) ([]model.Order, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	orders, err := s.orders.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ConfirmPayment records a settled payment reported by the provider. A repeat
// confirmation is a no-op. For card orders the effects deferred at checkout
// (coupon usage, cart clear, OrderPlaced) run here.
func (s *OrderService) ConfirmPayment(ctx context.Context, number, transactionID string) (*model.Order, error) {
	var (
		order   *model.Order
		old     model.PaymentStatus
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByNumber(ctx, number)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCancelled || order.Status == model.OrderStatusRefunded {
			return ErrInvalidTransition
		}
		old = order.PaymentStatus
		if changed = order.MarkPaid(transactionID, s.now()); !changed {
			return nil
		}
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		s.logger.Info("payment already recorded", "order_number", number)
		return order, nil
	}

	s.logger.Info("payment confirmed", "order_id", order.ID, "order_number", order.Number, "transaction_id", transactionID)
	s.effects.PaymentChanged(ctx, order, old)
	if !order.PaymentMethod.IsOffline() {
		s.effects.Apply(ctx, order)
	}
	return order, nil
}

// FailPayment marks an unpaid order's payment as failed. The order stays
// pending so the customer can retry.
func (s *OrderService) FailPayment(ctx context.Context, number string) (*model.Order, error) {
	var (
		order   *model.Order
		old     model.PaymentStatus
		changed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByNumber(ctx, number)
		if err != nil {
			return err
		}
		old = order.PaymentStatus
		if changed = order.MarkPaymentFailed(); !changed {
			return nil
		}
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Warn("payment failed", "order_id", order.ID, "order_number", order.Number)
		s.effects.PaymentChanged(ctx, order, old)
	}
	return order, nil
}

// UpdateStatus moves an order forward along the fulfilment pipeline. Moving
// to paid also settles the payment, which is how offline payments are
// recorded.
func (s *OrderService) UpdateStatus(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error) {
	if !next.Valid() {
		return nil, ErrInvalidTransition
	}

	var (
		order *model.Order
		old   model.PaymentStatus
		paid  bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByID(ctx, id)
		if err != nil {
			return err
		}
		old = order.PaymentStatus
		now := s.now()
		if !order.TransitionTo(next, now) {
			return ErrInvalidTransition
		}
		if next == model.OrderStatusPaid {
			paid = order.MarkPaid(order.TransactionID, now)
		}
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	s.effects.PaymentChanged(ctx, order, old)
	// A later provider confirmation sees paid_at and skips, so a card order's
	// deferred effects have to run here.
	if paid && !order.PaymentMethod.IsOffline() {
		s.effects.Apply(ctx, order)
	}
	return order, nil
}

// Cancel lets the owner cancel an order that has not been paid or shipped.
func (s *OrderService) Cancel(ctx context.Context, owner model.Owner, id uuid.UUID) (*model.Order, error) {
	return s.cancel(ctx, id, func(o *model.Order) error {
		if !o.OwnedBy(owner) {
			return ErrForbidden
		}
		return nil
	})
}

func (s *OrderService) AdminCancel(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return s.cancel(ctx, id, nil)
}

// cancel restores the stock of every active item inside the cancelling
// transaction, whichever path requested it.
func (s *OrderService) cancel(ctx context.Context, id uuid.UUID, authorize func(*model.Order) error) (*model.Order, error) {
	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByID(ctx, id)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(order); err != nil {
				return err
			}
		}
		if !order.CanBeCancelled() {
			return ErrOrderNotCancellable
		}
		if err := s.restoreStock(ctx, order); err != nil {
			return err
		}
		order.MarkAsCancelled(s.now())
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order cancelled", "order_id", order.ID, "order_number", order.Number)
	return order, nil
}

// restoreStock adjusts rows in the same order checkout locks them.
func (s *OrderService) restoreStock(ctx context.Context, order *model.Order) error {
	items := make([]model.OrderItem, 0, len(order.Items))
	for _, it := range order.Items {
		if it.Status == model.ItemStatusActive && it.ProductID != nil {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return stockKey(*items[i].ProductID, items[i].VariantID) < stockKey(*items[j].ProductID, items[j].VariantID)
	})
	for _, it := range items {
		if err := s.products.AdjustStock(ctx, *it.ProductID, it.VariantID, it.Quantity); err != nil {
			return fmt.Errorf("restore stock: %w", err)
		}
	}
	return nil
}

// Refund records that a paid order's money was returned.
func (s *OrderService) Refund(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var (
		order *model.Order
		old   model.PaymentStatus
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByID(ctx, id)
		if err != nil {
			return err
		}
		if !order.CanBeRefunded() {
			return ErrOrderNotRefundable
		}
		old = order.PaymentStatus
		order.MarkRefunded()
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order refunded", "order_id", order.ID, "order_number", order.Number)
	s.effects.PaymentChanged(ctx, order, old)
	return order, nil
}

// RecalcTotals rebuilds subtotal and total from the active items. Closed
// orders keep the totals they were settled with.
func (s *OrderService) RecalcTotals(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.lockByID(ctx, id)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return ErrInvalidTransition
		}
		order.RecalcTotals()
		return s.save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) lockByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orders.LockByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) lockByNumber(ctx context.Context, number string) (*model.Order, error) {
	order, err := s.orders.LockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) save(ctx context.Context, order *model.Order) error {
	if err := s.orders.Update(ctx, order); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}
