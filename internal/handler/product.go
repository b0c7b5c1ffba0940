package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/service"
)

type ProductHandler struct {
	productService *service.ProductService
	log            *slog.Logger
}

func NewProductHandler(productService *service.ProductService, log *slog.Logger) *ProductHandler {
	return &ProductHandler{productService: productService, log: log}
}

func (h *ProductHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product ID"})
		return
	}

	resp, err := h.productService.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ProductHandler) List(c *gin.Context) {
	var req dto.ListProductsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.productService.List(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
