package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront/internal/service"
)

// writeError maps service errors onto HTTP responses. Anything unrecognised
// is logged and reported as a bare 500.
func writeError(c *gin.Context, log *slog.Logger, err error) {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient stock",
			"item":      stockErr.Item,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidCountry),
		errors.Is(err, service.ErrInvalidOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCoupon):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrVariantNotFound),
		errors.Is(err, service.ErrCartLineNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrOrderNotCancellable),
		errors.Is(err, service.ErrOrderNotRefundable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
