package api

import (
	"context"
	"errors"
	"net/http"

	"pos_engine/internal/checkout"
	"pos_engine/internal/inventory"
	"pos_engine/internal/reports"
	"pos_engine/internal/sales"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errInvalidBody = errors.New("invalid request payload")

// writeError maps a domain error to its HTTP status. Every body carries
// "error" plus whatever structured fields the error exposes.
func writeError(ctx *gin.Context, logger *zap.Logger, err error) {
	var (
		stockErr    *inventory.InsufficientStockError
		lineErr     *checkout.LineError
		notFoundErr *inventory.NotFoundError
	)

	switch {
	case errors.As(err, &stockErr):
		ctx.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"barcode":   stockErr.Barcode,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})

	case errors.As(err, &lineErr):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   err.Error(),
			"index":   lineErr.Index,
			"line_id": lineErr.LineID,
			"barcode": lineErr.Barcode,
		})

	case errors.As(err, &notFoundErr):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "barcode": notFoundErr.Barcode})

	case errors.Is(err, checkout.ErrCartNotFound),
		errors.Is(err, checkout.ErrLineNotFound),
		errors.Is(err, sales.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, checkout.ErrEmptyCart):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})

	case errors.Is(err, errInvalidBody),
		errors.Is(err, checkout.ErrInvalidDiscount),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrPaymentMethodRequired),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidProduct),
		errors.Is(err, inventory.ErrEmptyBarcode),
		errors.Is(err, sales.ErrInvalidStatus),
		errors.Is(err, sales.ErrEmptyID),
		errors.Is(err, reports.ErrInvalidRange),
		errors.Is(err, reports.ErrInvalidThreshold):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, checkout.ErrCartNotBuilding),
		errors.Is(err, checkout.ErrCartClosed),
		errors.Is(err, checkout.ErrVoidInProgress),
		errors.Is(err, checkout.ErrPendingReconciliation),
		errors.Is(err, sales.ErrStatusConflict),
		errors.Is(err, sales.ErrInvalidTransition):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, inventory.ErrBusy):
		ctx.Header("Retry-After", "1")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.Is(err, context.DeadlineExceeded):
		ctx.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})

	default:
		logger.Error("unhandled request error",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Error(err),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
