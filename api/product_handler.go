package api

import (
	"net/http"
	"strings"

	"pos_engine/internal/inventory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type productHandler struct {
	store  inventory.Store
	logger *zap.Logger
}

func NewProductHandler(store inventory.Store, logger *zap.Logger) *productHandler {
	return &productHandler{store: store, logger: logger}
}

type productRequest struct {
	Name              string          `json:"name" binding:"required"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Category          string          `json:"category"`
}

// handleListProducts handles GET /products and GET /products?q=.
func (h *productHandler) handleListProducts(ctx *gin.Context) {
	var (
		products []inventory.Product
		err      error
	)
	if q := strings.TrimSpace(ctx.Query("q")); q != "" {
		products, err = h.store.Search(ctx.Request.Context(), q)
	} else {
		products, err = h.store.List(ctx.Request.Context())
	}
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": products, "count": len(products)})
}

func (h *productHandler) handleGetProduct(ctx *gin.Context) {
	p, err := h.store.GetProduct(ctx.Request.Context(), ctx.Param("barcode"))
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// handlePutProduct handles PUT /products/:barcode, creating or replacing it.
func (h *productHandler) handlePutProduct(ctx *gin.Context) {
	var req productRequest
	if err := bind(ctx, &req); err != nil {
		writeError(ctx, h.logger, err)
		return
	}

	p := inventory.Product{
		Barcode:           ctx.Param("barcode"),
		Name:              req.Name,
		Price:             req.Price,
		Quantity:          req.Quantity,
		LowStockThreshold: req.LowStockThreshold,
		Category:          req.Category,
	}
	if err := h.store.Upsert(ctx.Request.Context(), p); err != nil {
		writeError(ctx, h.logger, err)
		return
	}

	h.logger.Info("product saved", zap.String("barcode", p.Barcode), zap.Int("quantity", p.Quantity))
	ctx.JSON(http.StatusOK, p)
}

func (h *productHandler) handleDeleteProduct(ctx *gin.Context) {
	if err := h.store.Delete(ctx.Request.Context(), ctx.Param("barcode")); err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
