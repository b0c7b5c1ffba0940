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

type OrderHandler struct {
	orderService *service.OrderService
	log          *slog.Logger
}

func NewOrderHandler(orderService *service.OrderService, log *slog.Logger) *OrderHandler {
	return &OrderHandler{orderService: orderService, log: log}
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	orders, err := h.orderService.List(c.Request.Context(), middleware.GetOwner(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	items := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, dto.ToOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, dto.OrderListResponse{Orders: items, Total: len(items)})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, err := h.orderService.Get(c.Request.Context(), middleware.GetOwner(c), orderID)
	h.respond(c, order, err)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, err := h.orderService.Cancel(c.Request.Context(), middleware.GetOwner(c), orderID)
	h.respond(c, order, err)
}

// --- admin ---

// AdminGetOrder looks an order up by id or, failing that, by order number.
func (h *OrderHandler) AdminGetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		order *model.Order
		err   error
	)
	if id, parseErr := uuid.Parse(c.Param("id")); parseErr == nil {
		order, err = h.orderService.GetByID(ctx, id)
	} else {
		order, err = h.orderService.GetByNumber(ctx, c.Param("id"))
	}
	h.respond(c, order, err)
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req dto.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.orderService.UpdateStatus(c.Request.Context(), orderID, req.Status)
	h.respondAdmin(c, "status", order, err)
}

func (h *OrderHandler) AdminCancel(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, err := h.orderService.AdminCancel(c.Request.Context(), orderID)
	h.respondAdmin(c, "cancel", order, err)
}

func (h *OrderHandler) Refund(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, err := h.orderService.Refund(c.Request.Context(), orderID)
	h.respondAdmin(c, "refund", order, err)
}

func (h *OrderHandler) Recalculate(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	order, err := h.orderService.RecalcTotals(c.Request.Context(), orderID)
	h.respondAdmin(c, "recalculate", order, err)
}

func (h *OrderHandler) respond(c *gin.Context, order *model.Order, err error) {
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dto.ToOrderResponse(order))
}

// respondAdmin records which admin changed the order before responding.
func (h *OrderHandler) respondAdmin(c *gin.Context, action string, order *model.Order, err error) {
	if err == nil {
		h.log.Info("admin order action",
			"action", action,
			"admin_id", middleware.GetUserID(c),
			"order_number", order.Number,
			"status", order.Status,
		)
	}
	h.respond(c, order, err)
}

func orderIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return uuid.Nil, false
	}
	return id, true
}
