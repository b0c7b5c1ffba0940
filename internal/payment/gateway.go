// Package payment talks to the card payment provider: creating payment
// intents for card checkouts and verifying the provider's webhooks.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"

	"github.com/flicky/storefront/internal/config"
)

// ErrPaymentFailed is the only error callers see from the provider; details
// stay in the logs.
var ErrPaymentFailed = errors.New("payment failed")

type IntentRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

type StripeGateway struct {
	intents  paymentintent.Client
	currency string
	breaker  *gobreaker.CircuitBreaker[*Intent]
	logger   *slog.Logger
}

func NewStripeGateway(cfg config.PaymentConfig, logger *slog.Logger) *StripeGateway {
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.RequestTimeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.ProviderURL != "" {
		backendCfg.URL = stripe.String(cfg.ProviderURL)
	}

	return &StripeGateway{
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.APIKey,
		},
		currency: cfg.Currency,
		breaker: gobreaker.NewCircuitBreaker[*Intent](gobreaker.Settings{
			Name:    "payment-provider",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger: logger,
	}
}

// CreateIntent opens a payment intent for the order total. The order number
// doubles as the idempotency key, so a retried checkout reuses the intent.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	intent, err := g.breaker.Execute(func() (*Intent, error) {
		return g.createIntent(ctx, req)
	})
	if err != nil {
		g.logger.Error("create payment intent failed", "order_number", req.OrderNumber, "error", err)
		return nil, ErrPaymentFailed
	}
	return intent, nil
}

func (g *StripeGateway) createIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToMinorUnits(req.Amount)),
		Currency: stripe.String(g.currency),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.OrderNumber)
	params.AddMetadata("order_number", req.OrderNumber)

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, err
	}
	if pi.ID == "" {
		return nil, errors.New("provider returned an intent without id")
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// ToMinorUnits converts an amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

var _ Gateway = (*StripeGateway)(nil)
