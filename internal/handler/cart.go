package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/middleware"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/service"
)

type CartHandler struct {
	svc *service.CartService
	log *slog.Logger
}

func NewCartHandler(svc *service.CartService, log *slog.Logger) *CartHandler {
	return &CartHandler{svc: svc, log: log}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	var q dto.CartTotalsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respondCart(c, http.StatusOK, service.TotalsOptions{CouponCode: q.Coupon, Country: q.Country})
}

func (h *CartHandler) respondCart(c *gin.Context, status int, opts service.TotalsOptions) {
	ctx := c.Request.Context()
	owner := middleware.GetOwner(c)

	lines, err := h.svc.Lines(ctx, owner)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	totals, err := h.svc.Totals(ctx, owner, opts)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	items := make([]dto.CartItemResponse, 0, len(lines))
	for i := range lines {
		items = append(items, toCartItemResponse(&lines[i]))
	}
	c.JSON(status, dto.CartResponse{Items: items, Totals: dto.ToTotalsResponse(totals)})
}

func toCartItemResponse(l *model.CartLine) dto.CartItemResponse {
	return dto.CartItemResponse{
		ID: l.ID, ProductID: l.ProductID, VariantID: l.VariantID,
		UnitPrice: l.UnitPrice, Quantity: l.Quantity, LineTotal: l.LineTotal(),
	}
}

func (h *CartHandler) AddItem(c *gin.Context) {
	var req dto.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.Add(c.Request.Context(), middleware.GetOwner(c), req.ProductID, req.VariantID, req.Quantity); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondCart(c, http.StatusCreated, service.TotalsOptions{})
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req dto.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.UpdateQuantity(c.Request.Context(), middleware.GetOwner(c), itemID, req.Quantity); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondCart(c, http.StatusOK, service.TotalsOptions{})
}

func (h *CartHandler) DeleteItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.svc.Remove(c.Request.Context(), middleware.GetOwner(c), itemID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) Clear(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context(), middleware.GetOwner(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) ApplyCoupon(c *gin.Context) {
	var req dto.ApplyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	totals, err := h.svc.ApplyCoupon(c.Request.Context(), middleware.GetOwner(c), req.Code)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToTotalsResponse(totals))
}

func (h *CartHandler) RemoveCoupon(c *gin.Context) {
	if err := h.svc.RemoveCoupon(c.Request.Context(), middleware.GetOwner(c)); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CartHandler) SetCountry(c *gin.Context) {
	var req dto.SetCountryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.SetCountry(c.Request.Context(), middleware.GetOwner(c), req.Country); err != nil {
		writeError(c, h.log, err)
		return
	}
	h.respondCart(c, http.StatusOK, service.TotalsOptions{})
}
