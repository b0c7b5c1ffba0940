package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/session"
)

// CheckoutSessions stores the coupon and country an owner picked between
// cart requests.
type CheckoutSessions interface {
	Get(ctx context.Context, owner model.Owner) (session.Checkout, error)
	SetCoupon(ctx context.Context, owner model.Owner, code string) error
	SetCountry(ctx context.Context, owner model.Owner, country string) error
	ClearCoupon(ctx context.Context, owner model.Owner) error
	Clear(ctx context.Context, owner model.Owner) error
}

// TotalsOptions override the session-stored checkout choices.
type TotalsOptions struct {
	CouponCode string
	Country    string
}

type CartService struct {
	tx       repository.Transactor
	carts    repository.CartRepository
	products repository.ProductRepository
	pricing  *PricingService
	sessions CheckoutSessions
	logger   *slog.Logger
}

func NewCartService(
	tx repository.Transactor,
	carts repository.CartRepository,
	products repository.ProductRepository,
	pricing *PricingService,
	sessions CheckoutSessions,
	logger *slog.Logger,
) *CartService {
	return &CartService{tx: tx, carts: carts, products: products, pricing: pricing, sessions: sessions, logger: logger}
}

// Add puts quantity of the product (optionally a variant of it) into the
// owner's cart. A repeat add for the same product and variant grows the
// existing line. Stock is not checked here; checkout does that under lock.
func (s *CartService) Add(ctx context.Context, owner model.Owner, productID uuid.UUID, variantID *uuid.UUID, quantity int) (*model.CartLine, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	quantity = model.ClampQuantity(quantity)

	price, err := s.snapshotPrice(ctx, productID, variantID)
	if err != nil {
		return nil, err
	}

	line := &model.CartLine{
		Owner:     owner,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		UnitPrice: price,
	}
	if err := s.carts.AddLine(ctx, line); err != nil {
		return nil, fmt.Errorf("add cart line: %w", err)
	}
	return line, nil
}

func (s *CartService) snapshotPrice(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (decimal.Decimal, error) {
	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return decimal.Zero, ErrProductNotFound
	}
	if variantID == nil {
		return model.Round2(product.EffectivePrice()), nil
	}

	variant, err := s.products.GetVariant(ctx, *variantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get variant: %w", err)
	}
	if variant == nil || variant.ProductID != productID {
		return decimal.Zero, ErrVariantNotFound
	}
	return model.Round2(variant.EffectivePrice(product)), nil
}

func (s *CartService) Lines(ctx context.Context, owner model.Owner) ([]model.CartLine, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	lines, err := s.carts.ListLines(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return lines, nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, owner model.Owner, lineID uuid.UUID, quantity int) (*model.CartLine, error) {
	line, err := s.ownedLine(ctx, owner, lineID)
	if err != nil {
		return nil, err
	}
	line.Quantity = model.ClampQuantity(quantity)
	if err := s.carts.UpdateQuantity(ctx, line.ID, line.Quantity); err != nil {
		return nil, fmt.Errorf("update cart line: %w", err)
	}
	return line, nil
}

func (s *CartService) Remove(ctx context.Context, owner model.Owner, lineID uuid.UUID) error {
	line, err := s.ownedLine(ctx, owner, lineID)
	if err != nil {
		return err
	}
	if err := s.carts.DeleteLine(ctx, line.ID); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (s *CartService) ownedLine(ctx context.Context, owner model.Owner, lineID uuid.UUID) (*model.CartLine, error) {
	if !owner.Valid() {
		return nil, ErrInvalidOwner
	}
	line, err := s.carts.GetLine(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	if line == nil {
		return nil, ErrCartLineNotFound
	}
	if line.Owner != owner {
		return nil, ErrForbidden
	}
	return line, nil
}

func (s *CartService) Clear(ctx context.Context, owner model.Owner) error {
	if !owner.Valid() {
		return ErrInvalidOwner
	}
	if err := s.carts.Clear(ctx, owner); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Totals prices the owner's cart. An explicit coupon or country wins over the
// session-stored one. A coupon that fails validation is reported through
// CouponRejected and contributes no discount.
func (s *CartService) Totals(ctx context.Context, owner model.Owner, opts TotalsOptions) (model.CartTotals, error) {
	lines, err := s.Lines(ctx, owner)
	if err != nil {
		return model.CartTotals{}, err
	}
	return s.totalsFor(ctx, owner, lines, opts)
}

func (s *CartService) totalsFor(ctx context.Context, owner model.Owner, lines []model.CartLine, opts TotalsOptions) (model.CartTotals, error) {
	sess := s.checkoutSession(ctx, owner)

	code := opts.CouponCode
	if code == "" {
		code = sess.CouponCode
	}
	country := opts.Country
	if country == "" {
		country = sess.Country
	}
	if country == "" {
		country = s.pricing.DefaultCountry()
	}

	var (
		coupon   *model.Coupon
		rejected bool
	)
	if code != "" {
		c, err := s.pricing.ResolveCoupon(ctx, code)
		switch {
		case errors.Is(err, ErrInvalidCoupon):
			rejected = true
		case err != nil:
			return model.CartTotals{}, err
		default:
			coupon = c
		}
	}

	totals, err := s.pricing.Price(ctx, lines, coupon, country)
	if err != nil {
		return model.CartTotals{}, err
	}
	if rejected {
		totals.CouponCode = code
		totals.CouponRejected = true
	}
	return totals, nil
}

func (s *CartService) checkoutSession(ctx context.Context, owner model.Owner) session.Checkout {
	if s.sessions == nil {
		return session.Checkout{}
	}
	sess, err := s.sessions.Get(ctx, owner)
	if err != nil {
		s.logger.Warn("checkout session unavailable", "owner", owner.Key(), "error", err)
		return session.Checkout{}
	}
	return sess
}

// ApplyCoupon validates code and remembers it for the owner's later totals
// and checkout.
func (s *CartService) ApplyCoupon(ctx context.Context, owner model.Owner, code string) (model.CartTotals, error) {
	if !owner.Valid() {
		return model.CartTotals{}, ErrInvalidOwner
	}
	coupon, err := s.pricing.ResolveCoupon(ctx, code)
	if err != nil {
		return model.CartTotals{}, err
	}
	if err := s.sessions.SetCoupon(ctx, owner, coupon.Code); err != nil {
		return model.CartTotals{}, err
	}
	return s.Totals(ctx, owner, TotalsOptions{CouponCode: coupon.Code})
}

func (s *CartService) RemoveCoupon(ctx context.Context, owner model.Owner) error {
	if !owner.Valid() {
		return ErrInvalidOwner
	}
	return s.sessions.ClearCoupon(ctx, owner)
}

// SetCountry records the destination country used for tax and shipping.
func (s *CartService) SetCountry(ctx context.Context, owner model.Owner, country string) error {
	if !owner.Valid() {
		return ErrInvalidOwner
	}
	country = normalizeCountry(country)
	if len(country) != 2 {
		return ErrInvalidCountry
	}
	return s.sessions.SetCountry(ctx, owner, country)
}

// MergeGuestIntoUser moves the guest session's cart onto the user. Lines for
// a product and variant the user already holds are folded into the user's
// line; the rest change owner.
func (s *CartService) MergeGuestIntoUser(ctx context.Context, userID uuid.UUID, sessionID string) error {
	if userID == uuid.Nil || sessionID == "" {
		return nil
	}
	guest := model.GuestOwner(sessionID)
	user := model.UserOwner(userID)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lines, err := s.carts.ListLines(ctx, guest)
		if err != nil {
			return fmt.Errorf("list guest lines: %w", err)
		}
		for _, gl := range lines {
			existing, err := s.carts.FindLine(ctx, user, gl.ProductID, gl.VariantID)
			if err != nil {
				return fmt.Errorf("find user line: %w", err)
			}
			if existing == nil {
				if err := s.carts.Reassign(ctx, gl.ID, user); err != nil {
					return fmt.Errorf("reassign cart line: %w", err)
				}
				continue
			}
			if err := s.carts.UpdateQuantity(ctx, existing.ID, existing.Quantity+gl.Quantity); err != nil {
				return fmt.Errorf("merge cart line: %w", err)
			}
			if err := s.carts.DeleteLine(ctx, gl.ID); err != nil {
				return fmt.Errorf("delete guest line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mergeSession(ctx, guest, user)
	return nil
}

// mergeSession carries the guest's checkout choices over when the user has
// none of their own.
func (s *CartService) mergeSession(ctx context.Context, guest, user model.Owner) {
	if s.sessions == nil {
		return
	}
	from := s.checkoutSession(ctx, guest)
	to := s.checkoutSession(ctx, user)
	if from.CouponCode != "" && to.CouponCode == "" {
		if err := s.sessions.SetCoupon(ctx, user, from.CouponCode); err != nil {
			s.logger.Warn("carry coupon to user session failed", "error", err)
		}
	}
	if from.Country != "" && to.Country == "" {
		if err := s.sessions.SetCountry(ctx, user, from.Country); err != nil {
			s.logger.Warn("carry country to user session failed", "error", err)
		}
	}
	if err := s.sessions.Clear(ctx, guest); err != nil {
		s.logger.Warn("clear guest session failed", "error", err)
	}
}
