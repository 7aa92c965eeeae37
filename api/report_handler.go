package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pos_engine/internal/reports"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type reportHandler struct {
	reports *reports.Aggregator
	loc     *time.Location
	logger  *zap.Logger
}

func NewReportHandler(aggregator *reports.Aggregator, loc *time.Location, logger *zap.Logger) *reportHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &reportHandler{reports: aggregator, loc: loc, logger: logger}
}

// parseBound accepts RFC3339 or a bare date. A bare end date covers the
// whole day.
func (h *reportHandler) parseBound(raw string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither RFC3339 nor YYYY-MM-DD", reports.ErrInvalidRange, raw)
	}
	if end {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}

// threshold reads the optional ?threshold= override.
func threshold(ctx *gin.Context) (*int, error) {
	raw, ok := ctx.GetQuery("threshold")
	if !ok || raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", reports.ErrInvalidThreshold, raw)
	}
	return &n, nil
}

// handleSalesReport handles GET /reports/sales?start=&end=.
func (h *reportHandler) handleSalesReport(ctx *gin.Context) {
	start, err := h.parseBound(ctx.Query("start"), false)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	end, err := h.parseBound(ctx.Query("end"), true)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}

	report, err := h.reports.SalesReport(ctx.Request.Context(), start, end)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, report)
}

func (h *reportHandler) handleLowStock(ctx *gin.Context) {
	override, err := threshold(ctx)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	items, err := h.reports.LowStockReport(ctx.Request.Context(), override)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"results": items, "count": len(items)})
}

func (h *reportHandler) handleInventory(ctx *gin.Context) {
	override, err := threshold(ctx)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	report, err := h.reports.InventoryReport(ctx.Request.Context(), override)
	if err != nil {
		writeError(ctx, h.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, report)
}
