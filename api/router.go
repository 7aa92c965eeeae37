package api

import (
	"net/http"
	"time"

	"pos_engine/internal/checkout"
	"pos_engine/internal/inventory"
	"pos_engine/internal/reports"
	"pos_engine/internal/sales"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services bundles what the HTTP boundary needs. Location is used to read
// bare report dates and defaults to UTC.
type Services struct {
	Checkout  *checkout.Service
	Sales     *sales.Service
	Inventory inventory.Store
	Reports   *reports.Aggregator
	Location  *time.Location
	Logger    *zap.Logger
}

// InitRoutes registers every point-of-sale endpoint on the given Gin engine.
func InitRoutes(e *gin.Engine, s Services) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	checkoutHandler := NewCheckoutHandler(s.Checkout, logger)
	salesHandler := NewSalesHandler(s.Sales, s.Checkout, logger)
	productHandler := NewProductHandler(s.Inventory, logger)
	reportHandler := NewReportHandler(s.Reports, s.Location, logger)

	checkouts := e.Group("/checkouts")
	checkouts.POST("", checkoutHandler.handleStartCheckout)
	checkouts.GET("/:id", checkoutHandler.handleGetCart)
	checkouts.DELETE("/:id", checkoutHandler.handleDiscard)
	checkouts.POST("/:id/lines", checkoutHandler.handleAddLine)
	checkouts.PATCH("/:id/lines/:line", checkoutHandler.handleUpdateQuantity)
	checkouts.DELETE("/:id/lines/:line", checkoutHandler.handleRemoveLine)
	checkouts.PUT("/:id/discount", checkoutHandler.handleSetDiscount)
	checkouts.GET("/:id/quote", checkoutHandler.handleQuote)
	checkouts.POST("/:id/finalize", checkoutHandler.handleFinalize)

	e.GET("/sales", salesHandler.handlerSearchSales)
	e.GET("/sales/:id", salesHandler.handlerGetSale)
	e.POST("/sales/:id/void", salesHandler.handleVoidSale)

	e.GET("/reconciliation", salesHandler.handleListPending)
	e.POST("/reconciliation/retry", salesHandler.handleReconcile)

	e.GET("/products", productHandler.handleListProducts)
	e.GET("/products/:barcode", productHandler.handleGetProduct)
	e.PUT("/products/:barcode", productHandler.handlePutProduct)
	e.DELETE("/products/:barcode", productHandler.handleDeleteProduct)

	e.GET("/reports/sales", reportHandler.handleSalesReport)
	e.GET("/reports/low-stock", reportHandler.handleLowStock)
	e.GET("/reports/inventory", reportHandler.handleInventory)

	e.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
}
