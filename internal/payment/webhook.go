package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Event is the part of a provider notification the storefront acts on.
type Event struct {
	ID            string
	Type          string
	OrderNumber   string
	TransactionID string
}

// ConstructEvent verifies the signature header against payload and decodes
// the payment intent it carries. Events signed longer ago than tolerance are
// rejected with ErrStaleSignature.
func ConstructEvent(payload []byte, header, secret string, tolerance time.Duration) (*Event, error) {
	if secret == "" || header == "" {
		return nil, ErrInvalidSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case err == nil:
	case errors.Is(err, webhook.ErrTooOld):
		return nil, ErrStaleSignature
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrInvalidHeader):
		return nil, ErrInvalidSignature
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if evt.Type == "" {
		return nil, fmt.Errorf("%w: no type", ErrMalformedEvent)
	}
	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.TransactionID = pi.ID
	out.OrderNumber = pi.Metadata["order_number"]
	return out, nil
}

// Sign builds a signature header for payload as the provider would.
func Sign(payload []byte, secret string, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}
