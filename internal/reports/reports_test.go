package reports

import (
	"context"
	"testing"
	"time"

	"pos_engine/internal/inventory"
	"pos_engine/internal/sales"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func sale(id string, number int64, at time.Time, total string, status sales.Status, lines ...sales.Line) *sales.Sale {
	return &sales.Sale{
		ID:            id,
		Number:        number,
		Lines:         lines,
		Subtotal:      dec(total),
		DiscountTotal: dec("1"),
		Tax:           dec("0.5"),
		GrandTotal:    dec(total),
		PaymentMethod: "cash",
		Status:        status,
		CreatedAt:     at,
		UpdatedAt:     at,
		Version:       1,
	}
}

func line(barcode string, qty int, total string) sales.Line {
	return sales.Line{Barcode: barcode, Name: "Item " + barcode, Quantity: qty, LineTotal: dec(total)}
}

func seedSales(t *testing.T) *sales.LocalStorage {
	t.Helper()
	ctx := context.Background()
	s := sales.NewLocalStorage()
	for _, sl := range []*sales.Sale{
		sale("a", 1, day.Add(9*time.Hour), "10.00", sales.StatusCommitted, line("001", 1, "6.00"), line("001", 1, "4.00")),
		sale("b", 2, day.Add(9*time.Hour), "20.00", sales.StatusCommitted, line("002", 2, "20.00")),
		sale("c", 3, day.Add(33*time.Hour), "5.01", sales.StatusVoiding, line("001", 1, "5.01")),
		sale("v", 4, day.Add(10*time.Hour), "7.00", sales.StatusVoided, line("003", 7, "7.00")),
		sale("out", 5, day.Add(-time.Hour), "99.00", sales.StatusCommitted, line("001", 1, "99.00")),
	} {
		require.NoError(t, s.Set(ctx, sl))
	}
	return s
}

func TestSalesReport(t *testing.T) {
	agg := NewAggregator(seedSales(t), inventory.NewLocalStorage(), 2, zaptest.NewLogger(t))

	r, err := agg.SalesReport(context.Background(), day, day.Add(48*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, r.TotalTransactions)
	assert.Equal(t, 1, r.VoidedTransactions)
	assertDecimal(t, "35.01", r.TotalRevenue)
	assertDecimal(t, "7", r.VoidedAmount)
	assertDecimal(t, "1.5", r.TotalTax)
	assertDecimal(t, "3", r.TotalDiscount)
	assertDecimal(t, "11.67", r.AverageSale)

	ids := make([]string, 0, len(r.Sales))
	for _, s := range r.Sales {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "b", "v", "c"}, ids)

	require.Len(t, r.LineItemBreakdown, 2)
	assert.Equal(t, "001", r.LineItemBreakdown[0].Barcode)
	assert.Equal(t, 3, r.LineItemBreakdown[0].Quantity)
	assert.Equal(t, 2, r.LineItemBreakdown[0].Transactions)
	assertDecimal(t, "15.01", r.LineItemBreakdown[0].Revenue)
	assert.Equal(t, "002", r.LineItemBreakdown[1].Barcode)

	require.Len(t, r.Daily, 2)
	assert.Equal(t, "2024-03-01", r.Daily[0].Date)
	assert.Equal(t, 2, r.Daily[0].Transactions)
	assertDecimal(t, "30", r.Daily[0].Revenue)
	assert.Equal(t, "2024-03-02", r.Daily[1].Date)
}

func TestSalesReport_Empty(t *testing.T) {
	agg := NewAggregator(sales.NewLocalStorage(), inventory.NewLocalStorage(), 2, zaptest.NewLogger(t))

	r, err := agg.SalesReport(context.Background(), day, day)
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalTransactions)
	assertDecimal(t, "0", r.AverageSale)
	assert.Empty(t, r.LineItemBreakdown)
}

func TestSalesReport_InvalidRange(t *testing.T) {
	agg := NewAggregator(sales.NewLocalStorage(), inventory.NewLocalStorage(), 2, zaptest.NewLogger(t))

	_, err := agg.SalesReport(context.Background(), day.Add(time.Hour), day)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestSalesReport_DailyUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-10", -10*60*60)
	agg := NewAggregator(seedSales(t), inventory.NewLocalStorage(), 2, zaptest.NewLogger(t), WithLocation(loc))

	r, err := agg.SalesReport(context.Background(), day, day.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, r.Daily, 2)
	assert.Equal(t, "2024-02-29", r.Daily[0].Date)
	assert.Equal(t, "2024-03-01", r.Daily[1].Date)
}

func products(t *testing.T) *inventory.LocalStorage {
	t.Helper()
	ctx := context.Background()
	s := inventory.NewLocalStorage()
	for _, p := range []inventory.Product{
		{Barcode: "in", Name: "Four", Price: dec("2.50"), Quantity: 4, LowStockThreshold: 5},
		{Barcode: "out", Name: "Six", Price: dec("1"), Quantity: 6, LowStockThreshold: 5},
		{Barcode: "edge", Name: "Five", Price: dec("1"), Quantity: 5, LowStockThreshold: 5},
		{Barcode: "zero", Name: "None", Price: dec("3"), Quantity: 0, LowStockThreshold: 0},
	} {
		require.NoError(t, s.Upsert(ctx, p))
	}
	return s
}

func TestLowStockReport(t *testing.T) {
	agg := NewAggregator(sales.NewLocalStorage(), products(t), 2, zaptest.NewLogger(t))

	items, err := agg.LowStockReport(context.Background(), nil)
	require.NoError(t, err)
	got := make([]string, 0, len(items))
	for _, it := range items {
		got = append(got, it.Barcode)
	}
	assert.Equal(t, []string{"zero", "in", "edge"}, got)

	threshold := 5
	items, err = agg.LowStockReport(context.Background(), &threshold)
	require.NoError(t, err)
	got = got[:0]
	for _, it := range items {
		got = append(got, it.Barcode)
		assert.Equal(t, 5, it.Threshold)
	}
	assert.Contains(t, got, "in")
	assert.NotContains(t, got, "out")

	negative := -1
	_, err = agg.LowStockReport(context.Background(), &negative)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestInventoryReport(t *testing.T) {
	agg := NewAggregator(sales.NewLocalStorage(), products(t), 2, zaptest.NewLogger(t))

	r, err := agg.InventoryReport(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, r.TotalProducts)
	assert.Equal(t, 15, r.TotalUnits)
	assertDecimal(t, "21", r.TotalValue)
	assert.Equal(t, 3, r.LowStockCount)
}
