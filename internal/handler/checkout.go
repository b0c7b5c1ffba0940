package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/middleware"
	"github.com/flicky/storefront/internal/service"
)

type CheckoutHandler struct {
	svc *service.CheckoutService
	log *slog.Logger
}

func NewCheckoutHandler(svc *service.CheckoutService, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, log: log}
}

// Checkout places the caller's cart as an order. A card payment that could
// not be started still returns the created order, flagged as failed, so the
// client can retry payment.
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := service.CheckoutRequest{
		Owner:           middleware.GetOwner(c),
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress.ToModel(),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.ToModel()
		in.BillingAddress = &billing
	}

	res, err := h.svc.PlaceOrder(c.Request.Context(), in)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	resp := dto.CheckoutResponse{Order: dto.ToOrderResponse(res.Order), CouponRejected: res.CouponRejected}
	switch {
	case res.PaymentFailed:
		resp.Payment = &dto.PaymentResponse{Status: "failed", Message: "payment failed"}
	case res.Intent != nil:
		resp.Payment = &dto.PaymentResponse{
			Status: res.Intent.Status, IntentID: res.Intent.ID, ClientSecret: res.Intent.ClientSecret,
		}
	}
	c.JSON(http.StatusCreated, resp)
}
