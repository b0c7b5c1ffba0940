package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/metrics"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/payment"
	"github.com/flicky/storefront/internal/service"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 64 << 10
)

// PaymentRecorder applies provider payment outcomes to orders.
type PaymentRecorder interface {
	ConfirmPayment(ctx context.Context, number, transactionID string) (*model.Order, error)
	FailPayment(ctx context.Context, number string) (*model.Order, error)
}

type WebhookHandler struct {
	payments PaymentRecorder
	cfg      config.PaymentConfig
	log      *slog.Logger
}

func NewWebhookHandler(payments PaymentRecorder, cfg config.PaymentConfig, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{payments: payments, cfg: cfg, log: log}
}

// Payments receives the provider's signed payment notifications. Unknown
// event types and unknown orders are acknowledged so the provider stops
// retrying them.
func (h *WebhookHandler) Payments(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	evt, err := payment.ConstructEvent(body, c.GetHeader(signatureHeader), h.cfg.WebhookSecret, h.cfg.SignatureTolerance)
	if errors.Is(err, payment.ErrMalformedEvent) {
		h.log.Warn("malformed webhook event", "error", err)
		metrics.PaymentWebhook("malformed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	if err != nil {
		h.log.Warn("webhook signature rejected", "error", err)
		metrics.PaymentWebhook("invalid_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	log := h.log.With("event_id", evt.ID, "event_type", evt.Type, "order_number", evt.OrderNumber)
	ctx := c.Request.Context()

	switch evt.Type {
	case payment.EventPaymentSucceeded:
		_, err = h.payments.ConfirmPayment(ctx, evt.OrderNumber, evt.TransactionID)
	case payment.EventPaymentFailed:
		_, err = h.payments.FailPayment(ctx, evt.OrderNumber)
	default:
		metrics.PaymentWebhook("ignored")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch {
	case err == nil:
		metrics.PaymentWebhook("applied")
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrInvalidTransition):
		log.Warn("webhook not applied", "error", err)
		metrics.PaymentWebhook("rejected")
	default:
		log.Error("webhook processing failed", "error", err)
		metrics.PaymentWebhook("error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
