package api

import (
	"errors"
	"net/http"

	"pos_engine/internal/checkout"
	"pos_engine/internal/sales"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// salesHandler holds the sales services and implements HTTP handlers for
// recorded sales.
type salesHandler struct {
	salesService *sales.Service
	checkout     *checkout.Service
	logger       *zap.Logger
}

// NewSalesHandler creates a new sales handler.
func NewSalesHandler(salesService *sales.Service, checkoutService *checkout.Service, logger *zap.Logger) *salesHandler {
	return &salesHandler{
		salesService: salesService,
		checkout:     checkoutService,
		logger:       logger,
	}
}

// handlerGetSale handles GET /sales/:id. Sales waiting for reconciliation are
// returned too.
func (h *salesHandler) handlerGetSale(ctx *gin.Context) {
	sale, err := h.checkout.GetSale(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, sale)
}

// handlerSearchSales handles GET /sales?status=.
func (h *salesHandler) handlerSearchSales(ctx *gin.Context) {
	stateSale := ctx.Query("status")

	salesResults, metadata, err := h.salesService.SearchSale(ctx.Request.Context(), stateSale)
	if err != nil {
		h.logger.Warn("Error searching sales",
			zap.String("status_filter", stateSale),
			zap.Error(err),
		)
		writeError(ctx, h.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"results": salesResults, "metadata": metadata})
}

// handleVoidSale handles POST /sales/:id/void. Voiding an already voided
// sale succeeds with already_voided set.
func (h *salesHandler) handleVoidSale(ctx *gin.Context) {
	saleID := ctx.Param("id")

	result, err := h.checkout.Void(ctx.Request.Context(), saleID)
	if err != nil {
		if errors.Is(err, checkout.ErrVoidInProgress) {
			ctx.Header("Retry-After", "1")
		}
		writeError(ctx, h.logger, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}

// handleListPending handles GET /reconciliation.
func (h *salesHandler) handleListPending(ctx *gin.Context) {
	pending := h.checkout.PendingReconciliation()
	voids := h.checkout.PendingVoids()
	ctx.JSON(http.StatusOK, gin.H{"results": pending, "count": len(pending), "voids": voids})
}

// handleReconcile handles POST /reconciliation/retry.
func (h *salesHandler) handleReconcile(ctx *gin.Context) {
	stored, err := h.checkout.Reconcile(ctx.Request.Context())
	remaining := len(h.checkout.PendingReconciliation()) + len(h.checkout.PendingVoids())
	if err != nil {
		h.logger.Error("reconciliation incomplete", zap.Int("reconciled", stored), zap.Int("pending", remaining), zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      err.Error(),
			"reconciled": stored,
			"pending":    remaining,
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reconciled": stored, "pending": remaining})
}
