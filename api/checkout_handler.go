package api

import (
	"errors"
	"fmt"
	"net/http"

	"pos_engine/internal/checkout"
	"pos_engine/internal/pricing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type checkoutHandler struct {
	checkout *checkout.Service
	logger   *zap.Logger
}

func NewCheckoutHandler(checkoutService *checkout.Service, logger *zap.Logger) *checkoutHandler {
	return &checkoutHandler{
		checkout: checkoutService,
		logger:   logger,
	}
}

type addLineRequest struct {
	Barcode  string           `json:"barcode" binding:"required"`
	Quantity int              `json:"quantity" binding:"required"`
	Discount pricing.Discount `json:"discount"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

type finalizeRequest struct {
	PaymentMethod string `json:"payment_method"`
}

func bind(ctx *gin.Context, req any) error {
	if err := ctx.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

// respondCart writes the current view of a cart with the given status.
func (h *checkoutHandler) respondCart(ctx *gin.Context, status int, id string) {
	view, err := h.checkout.Cart(ctx.Request.Context(), id)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(status, view)
}

// handleStartCheckout handles POST /checkouts.
func (h *checkoutHandler) handleStartCheckout(ctx *gin.Context) {
	id := h.checkout.StartCheckout(ctx.Request.Context())
	h.respondCart(ctx, http.StatusCreated, id)
}

func (h *checkoutHandler) handleGetCart(ctx *gin.Context) {
	h.respondCart(ctx, http.StatusOK, ctx.Param("id"))
}

func (h *checkoutHandler) handleDiscard(ctx *gin.Context) {
	if err := h.checkout.Discard(ctx.Request.Context(), ctx.Param("id")); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// handleAddLine handles POST /checkouts/:id/lines.
func (h *checkoutHandler) handleAddLine(ctx *gin.Context) {
	var req addLineRequest
	if err := bind(ctx, &req); err != nil {
		h.logger.Warn("failed to bind JSON request", zap.Error(err))
		writeError(ctx, h.logger, err)
		return
	}

	cartID := ctx.Param("id")
	lineID, err := h.checkout.AddLine(ctx.Request.Context(), cartID, req.Barcode, req.Quantity, req.Discount)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}

	view, err := h.checkout.Cart(ctx.Request.Context(), cartID)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"line_id": lineID, "cart": view})
}

// handleUpdateQuantity handles PATCH /checkouts/:id/lines/:line.
func (h *checkoutHandler) handleUpdateQuantity(ctx *gin.Context) {
	var req updateQuantityRequest
	if err := bind(ctx, &req); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	if err := h.checkout.UpdateQuantity(ctx.Request.Context(), ctx.Param("id"), ctx.Param("line"), req.Quantity); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	h.respondCart(ctx, http.StatusOK, ctx.Param("id"))
}

func (h *checkoutHandler) handleRemoveLine(ctx *gin.Context) {
	if err := h.checkout.RemoveLine(ctx.Request.Context(), ctx.Param("id"), ctx.Param("line")); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	h.respondCart(ctx, http.StatusOK, ctx.Param("id"))
}

// handleSetDiscount handles PUT /checkouts/:id/discount. An empty body
// clears the discount.
func (h *checkoutHandler) handleSetDiscount(ctx *gin.Context) {
	var discount pricing.Discount
	if ctx.Request.ContentLength != 0 {
		if err := bind(ctx, &discount); err != nil {
			writeError(ctx, h.logger, err)
			return
		}
	}
	if err := h.checkout.SetCartDiscount(ctx.Request.Context(), ctx.Param("id"), discount); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	h.respondCart(ctx, http.StatusOK, ctx.Param("id"))
}

func (h *checkoutHandler) handleQuote(ctx *gin.Context) {
	priced, err := h.checkout.Quote(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, priced)
}

// handleFinalize handles POST /checkouts/:id/finalize. A sale whose stock was
// committed but whose record is still queued is answered with 202.
func (h *checkoutHandler) handleFinalize(ctx *gin.Context) {
	var req finalizeRequest
	if err := bind(ctx, &req); err != nil {
		writeError(ctx, h.logger, err)
		return
	}

	sale, err := h.checkout.Finalize(ctx.Request.Context(), ctx.Param("id"), req.PaymentMethod)
	var reconcileErr *checkout.ReconcileError
	switch {
	case errors.As(err, &reconcileErr):
		ctx.JSON(http.StatusAccepted, gin.H{
			"sale":      reconcileErr.Sale,
			"reconcile": true,
			"error":     err.Error(),
		})
	case err != nil:
		writeError(ctx, h.logger, err)
	default:
		ctx.JSON(http.StatusCreated, sale)
	}
}
