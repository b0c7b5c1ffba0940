package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/metrics"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/payment"
	"github.com/flicky/storefront/internal/repository"
)

const (
	orderNumberPrefix   = "ORD-"
	orderNumberLength   = 10
	orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxNumberAttempts   = 5
)

var errNumberExhausted = errors.New("could not allocate a unique order number")

// NewOrderNumber returns "ORD-" followed by ten random uppercase
// alphanumerics.
func NewOrderNumber() (string, error) {
	var b strings.Builder
	b.Grow(len(orderNumberPrefix) + orderNumberLength)
	b.WriteString(orderNumberPrefix)
	limit := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < orderNumberLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate order number: %w", err)
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String(), nil
}

type CheckoutRequest struct {
	Owner           model.Owner
	PaymentMethod   model.PaymentMethod
	ShippingAddress model.Address
	BillingAddress  *model.Address
	CouponCode      string
	Notes           string
}

// CheckoutResult describes a committed order. For card payments Intent holds
// the provider's payment intent, or PaymentFailed is set when the intent
// could not be created; the order then stays pending and unpaid.
type CheckoutResult struct {
	Order          *model.Order
	Intent         *payment.Intent
	PaymentFailed  bool
	CouponRejected bool
}

type CheckoutService struct {
	tx        repository.Transactor
	carts     repository.CartRepository
	products  repository.ProductRepository
	orders    repository.OrderRepository
	cart      *CartService
	effects   *PlacementEffects
	gateway   payment.Gateway
	logger    *slog.Logger
	newNumber func() (string, error)
}

func NewCheckoutService(
	tx repository.Transactor,
	carts repository.CartRepository,
	products repository.ProductRepository,
	orders repository.OrderRepository,
	cart *CartService,
	effects *PlacementEffects,
	gateway payment.Gateway,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		tx: tx, carts: carts, products: products, orders: orders,
		cart: cart, effects: effects, gateway: gateway, logger: logger,
		newNumber: NewOrderNumber,
	}
}

// PlaceOrder turns the owner's cart into an order. Stock is checked and
// decremented under row locks in the same transaction that writes the order,
// so concurrent checkouts of the last unit cannot both succeed.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if !req.Owner.Valid() {
		return nil, ErrInvalidOwner
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}
	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}

	result := &CheckoutResult{}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lines, err := s.carts.ListLines(ctx, req.Owner)
		if err != nil {
			return fmt.Errorf("list cart lines: %w", err)
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		totals, err := s.cart.totalsFor(ctx, req.Owner, lines, TotalsOptions{
			CouponCode: req.CouponCode,
			Country:    req.ShippingAddress.Country,
		})
		if err != nil {
			return err
		}
		result.CouponRejected = totals.CouponRejected

		order := &model.Order{
			Status:          model.OrderStatusPending,
			PaymentStatus:   model.PaymentStatusUnpaid,
			PaymentMethod:   req.PaymentMethod,
			Subtotal:        totals.Subtotal,
			Discount:        totals.Discount,
			Shipping:        totals.Shipping,
			Tax:             totals.Tax,
			Total:           totals.Total,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  billing,
			Notes:           req.Notes,
		}
		if !totals.CouponRejected {
			order.CouponCode = totals.CouponCode
		}
		if req.Owner.IsUser() {
			id := req.Owner.UserID
			order.UserID = &id
		} else {
			sid := req.Owner.SessionID
			order.SessionID = &sid
		}

		if err := s.createWithUniqueNumber(ctx, order); err != nil {
			return err
		}

		items, err := s.reserveLines(ctx, lines)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := s.orders.CreateItems(ctx, items); err != nil {
			return fmt.Errorf("create order items: %w", err)
		}
		order.Items = items

		order.RecalcTotals()
		if err := s.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("save order totals: %w", err)
		}
		result.Order = order
		return nil
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	order := result.Order
	metrics.OrderPlaced(string(order.PaymentMethod))
	s.logger.Info("order placed",
		"order_id", order.ID, "order_number", order.Number,
		"payment_method", order.PaymentMethod, "total", order.Total.StringFixed(2))

	if order.PaymentMethod.IsOffline() {
		s.effects.Apply(ctx, order)
		return result, nil
	}

	if s.gateway == nil {
		s.logger.Error("no payment gateway configured, order left pending", "order_number", order.Number)
		result.PaymentFailed = true
		return result, nil
	}
	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{OrderNumber: order.Number, Amount: order.Total})
	if err != nil {
		s.logger.Error("payment intent failed, order left pending", "order_number", order.Number, "error", err)
		metrics.CheckoutFailed("payment")
		result.PaymentFailed = true
		return result, nil
	}
	result.Intent = intent
	return result, nil
}

func (s *CheckoutService) createWithUniqueNumber(ctx context.Context, order *model.Order) error {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := s.newNumber()
		if err != nil {
			return err
		}
		exists, err := s.orders.NumberExists(ctx, number)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		order.Number = number
		err = s.orders.Create(ctx, order)
		if errors.Is(err, repository.ErrDuplicateOrderNumber) {
			continue
		}
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	}
	return errNumberExhausted
}

// reserveLines locks, checks and decrements stock for every line and returns
// the item snapshots. Lines are visited in product/variant order so two
// checkouts lock rows in the same sequence.
func (s *CheckoutService) reserveLines(ctx context.Context, lines []model.CartLine) ([]model.OrderItem, error) {
	sorted := make([]model.CartLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return stockKey(sorted[i].ProductID, sorted[i].VariantID) < stockKey(sorted[j].ProductID, sorted[j].VariantID)
	})

	items := make([]model.OrderItem, 0, len(sorted))
	for _, line := range sorted {
		item, err := s.reserve(ctx, line)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// stockKey orders stock rows for locking. Every path that touches more than
// one stock row walks them in this order.
func stockKey(productID uuid.UUID, variantID *uuid.UUID) string {
	if variantID == nil {
		return productID.String()
	}
	return productID.String() + "/" + variantID.String()
}

func (s *CheckoutService) reserve(ctx context.Context, line model.CartLine) (model.OrderItem, error) {
	product, err := s.products.LockProduct(ctx, line.ProductID)
	if err != nil {
		return model.OrderItem{}, fmt.Errorf("lock product: %w", err)
	}
	if product == nil {
		return model.OrderItem{}, ErrProductNotFound
	}

	var variant *model.Variant
	if line.VariantID != nil {
		variant, err = s.products.LockVariant(ctx, *line.VariantID)
		if err != nil {
			return model.OrderItem{}, fmt.Errorf("lock variant: %w", err)
		}
		if variant == nil {
			return model.OrderItem{}, ErrVariantNotFound
		}
	}

	title := itemTitle(product, variant)
	available, backorder := model.StockFor(product, variant)
	if available < line.Quantity && !backorder {
		return model.OrderItem{}, &InsufficientStockError{Item: title, Requested: line.Quantity, Available: max(available, 0)}
	}
	if err := s.products.AdjustStock(ctx, product.ID, line.VariantID, -line.Quantity); err != nil {
		return model.OrderItem{}, err
	}

	productID := product.ID
	item := model.OrderItem{
		ProductID: &productID,
		VariantID: line.VariantID,
		Title:     title,
		SKU:       product.SKU,
		ImagePath: product.ImagePath,
		UnitPrice: model.Round2(line.UnitPrice),
		Quantity:  line.Quantity,
		Status:    model.ItemStatusActive,
	}
	if variant != nil {
		item.VariantOptions = variant.Options
		if variant.SKU != "" {
			item.SKU = variant.SKU
		}
		if variant.ImagePath != "" {
			item.ImagePath = variant.ImagePath
		}
	}
	item.LineTotal = model.Round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	return item, nil
}

func itemTitle(p *model.Product, v *model.Variant) string {
	if v == nil || len(v.Options) == 0 {
		return p.Name
	}
	keys := make([]string, 0, len(v.Options))
	for k := range v.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = v.Options[k]
	}
	return p.Name + " (" + strings.Join(parts, ", ") + ")"
}

func (s *CheckoutService) recordFailure(err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.Is(err, ErrEmptyCart):
		metrics.CheckoutFailed("empty_cart")
	case errors.As(err, &stockErr):
		metrics.CheckoutFailed("insufficient_stock")
		s.logger.Info("checkout rejected", "item", stockErr.Item,
			"requested", stockErr.Requested, "available", stockErr.Available)
	default:
		metrics.CheckoutFailed("error")
	}
}
