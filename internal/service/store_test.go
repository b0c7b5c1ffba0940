package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/payment"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/session"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memStore is an in-memory stand-in for every repository. Transactions are
// serialized by txMu, which plays the part of the row locks, and a failed
// transaction restores the snapshot taken when it began.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[uuid.UUID]model.Product
	variants map[uuid.UUID]model.Variant
	lines    map[uuid.UUID]model.CartLine
	coupons  map[string]model.Coupon
	taxRates map[string]decimal.Decimal
	zones    []model.ShippingZone
	orders   map[uuid.UUID]model.Order

	taxLookups        int
	zoneLookups       int
	duplicateOnCreate int
	lineSeq           int
	adjusted          []string
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		products: map[uuid.UUID]model.Product{},
		variants: map[uuid.UUID]model.Variant{},
		lines:    map[uuid.UUID]model.CartLine{},
		coupons:  map[string]model.Coupon{},
		taxRates: map[string]decimal.Decimal{},
		orders:   map[uuid.UUID]model.Order{},
	}
}

type memSnapshot struct {
	products map[uuid.UUID]model.Product
	variants map[uuid.UUID]model.Variant
	lines    map[uuid.UUID]model.CartLine
	coupons  map[string]model.Coupon
	orders   map[uuid.UUID]model.Order
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneOrder(o model.Order) model.Order {
	o.Items = append([]model.OrderItem(nil), o.Items...)
	return o
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make(map[uuid.UUID]model.Order, len(s.orders))
	for k, o := range s.orders {
		orders[k] = cloneOrder(o)
	}
	return memSnapshot{
		products: cloneMap(s.products), variants: cloneMap(s.variants), lines: cloneMap(s.lines),
		coupons: cloneMap(s.coupons), orders: orders,
	}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products, s.variants, s.lines, s.coupons, s.orders =
		snap.products, snap.variants, snap.lines, snap.coupons, snap.orders
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- seeding helpers ---

func (s *memStore) addProduct(name, price string, stock int) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Product{
		ID: uuid.New(), Name: name, SKU: strings.ToUpper(name) + "-SKU", Price: dec(price), Stock: stock,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	s.products[p.ID] = p
	return p
}

func (s *memStore) addVariant(productID uuid.UUID, sku string, price string, stock int, options map[string]string) model.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := model.Variant{ID: uuid.New(), ProductID: productID, SKU: sku, Stock: stock, Options: options}
	if price != "" {
		v.Price = decimal.NewNullDecimal(dec(price))
	}
	s.variants[v.ID] = v
	return v
}

func (s *memStore) setProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *memStore) product(id uuid.UUID) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *memStore) variant(id uuid.UUID) model.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[id]
}

func (s *memStore) addCoupon(c model.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uuid.New()
	s.coupons[c.Code] = c
}

func (s *memStore) coupon(code string) model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[code]
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) lineCount(owner model.Owner) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		if l.Owner == owner {
			n++
		}
	}
	return n
}

// --- repository.CartRepository ---

func (s *memStore) ListLines(_ context.Context, owner model.Owner) ([]model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CartLine
	for _, l := range s.lines {
		if l.Owner == owner {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) FindLine(_ context.Context, owner model.Owner, productID uuid.UUID, variantID *uuid.UUID) (*model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Owner == owner && l.ProductID == productID && l.SameVariant(variantID) {
			return &l, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetLine(_ context.Context, id uuid.UUID) (*model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *memStore) AddLine(_ context.Context, line *model.CartLine) error {
	if line.Quantity < 1 {
		return repository.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.lines {
		if l.Owner == line.Owner && l.ProductID == line.ProductID && l.SameVariant(line.VariantID) {
			l.Quantity += line.Quantity
			l.UpdatedAt = time.Now()
			s.lines[id] = l
			*line = l
			return nil
		}
	}
	s.lineSeq++
	line.ID = uuid.New()
	line.CreatedAt = time.Unix(int64(s.lineSeq), 0)
	line.UpdatedAt = line.CreatedAt
	s.lines[line.ID] = *line
	return nil
}

func (s *memStore) UpdateQuantity(_ context.Context, id uuid.UUID, quantity int) error {
	if quantity < 1 {
		return repository.ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[id]
	if !ok {
		return errors.New("cart line not found")
	}
	l.Quantity = quantity
	s.lines[id] = l
	return nil
}

func (s *memStore) DeleteLine(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, id)
	return nil
}

func (s *memStore) Clear(_ context.Context, owner model.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.lines {
		if l.Owner == owner {
			delete(s.lines, id)
		}
	}
	return nil
}

func (s *memStore) Reassign(_ context.Context, id uuid.UUID, owner model.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lines[id]
	l.Owner = owner
	s.lines[id] = l
	return nil
}

// --- repository.ProductRepository ---

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) GetVariant(_ context.Context, id uuid.UUID) (*model.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *memStore) ListVariants(_ context.Context, productID uuid.UUID) ([]model.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Variant
	for _, v := range s.variants {
		if v.ProductID == productID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *memStore) List(_ context.Context, limit, offset int, _, _, _ string) ([]model.Product, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (s *memStore) LockProduct(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return s.GetByID(ctx, id)
}

func (s *memStore) LockVariant(ctx context.Context, id uuid.UUID) (*model.Variant, error) {
	return s.GetVariant(ctx, id)
}

func (s *memStore) AdjustStock(_ context.Context, productID uuid.UUID, variantID *uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjusted = append(s.adjusted, stockKey(productID, variantID))
	if variantID != nil {
		v := s.variants[*variantID]
		v.Stock += delta
		s.variants[*variantID] = v
		return nil
	}
	p := s.products[productID]
	p.Stock += delta
	s.products[productID] = p
	return nil
}

// --- repository.CouponRepository ---

type memCoupons struct{ *memStore }

func (c memCoupons) GetByCode(_ context.Context, code string) (*model.Coupon, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.coupons[code]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (c memCoupons) IncrementUsage(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.coupons[code]
	cp.UsedCount++
	c.coupons[code] = cp
	return nil
}

// --- repository.PricingRepository ---

func (s *memStore) GetTaxRate(_ context.Context, country string) (*model.TaxRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxLookups++
	pct, ok := s.taxRates[strings.ToUpper(country)]
	if !ok {
		return nil, nil
	}
	return &model.TaxRate{Country: country, Percent: pct}, nil
}

func (s *memStore) ListShippingZones(_ context.Context) ([]model.ShippingZone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoneLookups++
	return append([]model.ShippingZone(nil), s.zones...), nil
}

// --- repository.OrderRepository ---

type memOrders struct{ *memStore }

func (o memOrders) Create(_ context.Context, order *model.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.duplicateOnCreate > 0 {
		o.duplicateOnCreate--
		return repository.ErrDuplicateOrderNumber
	}
	for _, existing := range o.orders {
		if existing.Number == order.Number {
			return repository.ErrDuplicateOrderNumber
		}
	}
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	o.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (o memOrders) CreateItems(_ context.Context, items []model.OrderItem) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range items {
		items[i].ID = uuid.New()
		items[i].CreatedAt = time.Now()
		order := o.orders[items[i].OrderID]
		order.Items = append(order.Items, items[i])
		o.orders[order.ID] = order
	}
	return nil
}

func (o memOrders) NumberExists(_ context.Context, number string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.orders {
		if existing.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (o memOrders) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[id]
	if !ok {
		return nil, nil
	}
	order = cloneOrder(order)
	return &order, nil
}

func (o memOrders) GetByNumber(_ context.Context, number string) (*model.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, order := range o.orders {
		if order.Number == number {
			order = cloneOrder(order)
			return &order, nil
		}
	}
	return nil, nil
}

func (o memOrders) LockByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return o.GetByID(ctx, id)
}

func (o memOrders) LockByNumber(ctx context.Context, number string) (*model.Order, error) {
	return o.GetByNumber(ctx, number)
}

func (o memOrders) ListByOwner(_ context.Context, owner model.Owner) ([]model.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.Order
	for _, order := range o.orders {
		if order.OwnedBy(owner) {
			order.Items = nil
			out = append(out, order)
		}
	}
	return out, nil
}

func (o memOrders) Update(_ context.Context, order *model.Order) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	stored, ok := o.orders[order.ID]
	if !ok {
		return errors.New("order not found")
	}
	items := stored.Items
	for i := range items {
		for _, it := range order.Items {
			if it.ID == items[i].ID {
				items[i].Status = it.Status
			}
		}
	}
	updated := cloneOrder(*order)
	updated.Items = items
	updated.UpdatedAt = time.Now()
	o.orders[order.ID] = updated
	return nil
}

func (o memOrders) stored(id uuid.UUID) model.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneOrder(o.orders[id])
}

// --- events.Publisher ---

type fakePublisher struct {
	mu       sync.Mutex
	placed   []events.OrderPlaced
	payments []events.PaymentStatusChanged
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, evt events.OrderPlaced) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, evt)
	return nil
}

func (p *fakePublisher) PublishPaymentStatusChanged(_ context.Context, evt events.PaymentStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, evt)
	return nil
}

func (p *fakePublisher) placedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.placed)
}

// --- payment.Gateway ---

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	requests []payment.IntentRequest
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Intent{ID: "pi_" + req.OrderNumber, ClientSecret: "secret_" + req.OrderNumber, Status: "requires_payment_method"}, nil
}

// --- wiring ---

type testEnv struct {
	store     *memStore
	orders    memOrders
	coupons   memCoupons
	redis     *miniredis.Miniredis
	sessions  *session.Store
	pricing   *PricingService
	cart      *CartService
	checkout  *CheckoutService
	orderSvc  *OrderService
	publisher *fakePublisher
	gateway   *fakeGateway
}

var testPricingConfig = config.PricingConfig{
	DefaultTaxPercent:     decimal.Zero,
	DefaultShippingRate:   dec("7.00"),
	FreeShippingThreshold: dec("100.00"),
	CacheTTL:              5 * time.Minute,
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	store.taxRates["US"] = dec("8")
	store.zones = []model.ShippingZone{{
		ID: uuid.New(), Name: "United States", Countries: []string{"US"},
		FlatRate: dec("5.00"), FreeThreshold: decimal.NewNullDecimal(dec("50.00")),
	}}
	store.coupons["FIXED10"] = model.Coupon{ID: uuid.New(), Code: "FIXED10", Type: model.CouponFixed, Value: dec("10.00"), Active: true}
	store.coupons["PERCENT50"] = model.Coupon{
		ID: uuid.New(), Code: "PERCENT50", Type: model.CouponPercent, Value: dec("50"),
		MaxDiscount: decimal.NewNullDecimal(dec("15.00")), Active: true,
	}

	logger := testLogger()
	orders := memOrders{store}
	coupons := memCoupons{store}
	sessions := session.NewStore(client, time.Hour)
	publisher := &fakePublisher{}
	gateway := &fakeGateway{}

	pricing := NewPricingService(store, coupons, cache.New(client, "test:"), testPricingConfig, logger)
	cart := NewCartService(store, store, store, pricing, sessions, logger)
	effects := NewPlacementEffects(coupons, store, sessions, publisher, logger)

	return &testEnv{
		store:     store,
		orders:    orders,
		coupons:   coupons,
		redis:     mr,
		sessions:  sessions,
		pricing:   pricing,
		cart:      cart,
		checkout:  NewCheckoutService(store, store, store, orders, cart, effects, gateway, logger),
		orderSvc:  NewOrderService(store, orders, store, effects, logger),
		publisher: publisher,
		gateway:   gateway,
	}
}

func usAddress() model.Address {
	return model.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
}
