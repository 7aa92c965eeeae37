// Package reports aggregates sales and inventory into summaries. Reads are
// read-committed: a sale committed during a scan may be missed.
package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"pos_engine/internal/inventory"
	"pos_engine/internal/sales"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidRange     = errors.New("report start is after end")
	ErrInvalidThreshold = errors.New("low stock threshold must not be negative")
)

// SaleReader is the part of sales.Storage the aggregator reads.
type SaleReader interface {
	Between(ctx context.Context, start, end time.Time) ([]*sales.Sale, error)
}

// ProductLister is the part of inventory.Store the aggregator reads.
type ProductLister interface {
	List(ctx context.Context) ([]inventory.Product, error)
}

type LineItemSummary struct {
	Barcode      string          `json:"barcode"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

type DailySummary struct {
	Date         string          `json:"date"`
	Transactions int             `json:"transactions"`
	Revenue      decimal.Decimal `json:"revenue"`
}

type SalesReport struct {
	Start              time.Time         `json:"start"`
	End                time.Time         `json:"end"`
	TotalRevenue       decimal.Decimal   `json:"total_revenue"`
	TotalTax           decimal.Decimal   `json:"total_tax"`
	TotalDiscount      decimal.Decimal   `json:"total_discount"`
	TotalTransactions  int               `json:"total_transactions"`
	VoidedTransactions int               `json:"voided_transactions"`
	VoidedAmount       decimal.Decimal   `json:"voided_amount"`
	AverageSale        decimal.Decimal   `json:"average_sale"`
	LineItemBreakdown  []LineItemSummary `json:"line_item_breakdown"`
	Daily              []DailySummary    `json:"daily"`
	Sales              []*sales.Sale     `json:"sales"`
}

type LowStockItem struct {
	Barcode   string `json:"barcode"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

type InventoryReport struct {
	TotalProducts int             `json:"total_products"`
	TotalUnits    int             `json:"total_units"`
	TotalValue    decimal.Decimal `json:"total_value"`
	LowStockCount int             `json:"low_stock_count"`
	LowStock      []LowStockItem  `json:"low_stock"`
}

// Aggregator builds reports from sale and product reads.
type Aggregator struct {
	sales      SaleReader
	products   ProductLister
	minorUnits int32
	location   *time.Location
	logger     *zap.Logger
}

type Option func(*Aggregator)

// WithLocation sets the time zone that defines a calendar day in Daily.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.location = loc
		}
	}
}

func NewAggregator(salesReader SaleReader, products ProductLister, minorUnits int32, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		sales:      salesReader,
		products:   products,
		minorUnits: minorUnits,
		location:   time.UTC,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SalesReport summarizes sales created in [start, end]. Voided sales are
// listed and counted apart; they add nothing to revenue.
func (a *Aggregator) SalesReport(ctx context.Context, start, end time.Time) (*SalesReport, error) {
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	list, err := a.sales.Between(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("read sales: %w", err)
	}

	r := &SalesReport{
		Start:         start,
		End:           end,
		TotalRevenue:  decimal.Zero,
		TotalTax:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		VoidedAmount:  decimal.Zero,
		AverageSale:   decimal.Zero,
		Sales:         list,
	}
	items := map[string]*LineItemSummary{}
	days := map[string]*DailySummary{}

	for _, sale := range list {
		if sale.Voided() {
			r.VoidedTransactions++
			r.VoidedAmount = r.VoidedAmount.Add(sale.GrandTotal)
			continue
		}
		r.TotalTransactions++
		r.TotalRevenue = r.TotalRevenue.Add(sale.GrandTotal)
		r.TotalTax = r.TotalTax.Add(sale.Tax)
		r.TotalDiscount = r.TotalDiscount.Add(sale.DiscountTotal)

		date := sale.CreatedAt.In(a.location).Format(time.DateOnly)
		day, ok := days[date]
		if !ok {
			day = &DailySummary{Date: date, Revenue: decimal.Zero}
			days[date] = day
		}
		day.Transactions++
		day.Revenue = day.Revenue.Add(sale.GrandTotal)

		seen := map[string]bool{}
		for _, l := range sale.Lines {
			item, ok := items[l.Barcode]
			if !ok {
				item = &LineItemSummary{Barcode: l.Barcode, Name: l.Name, Revenue: decimal.Zero}
				items[l.Barcode] = item
			}
			item.Quantity += l.Quantity
			item.Revenue = item.Revenue.Add(l.LineTotal)
			if !seen[l.Barcode] {
				item.Transactions++
				seen[l.Barcode] = true
			}
		}
	}

	if r.TotalTransactions > 0 {
		r.AverageSale = r.TotalRevenue.Div(decimal.NewFromInt(int64(r.TotalTransactions))).Round(a.minorUnits)
	}

	r.LineItemBreakdown = make([]LineItemSummary, 0, len(items))
	for _, item := range items {
		r.LineItemBreakdown = append(r.LineItemBreakdown, *item)
	}
	sort.Slice(r.LineItemBreakdown, func(i, j int) bool {
		return r.LineItemBreakdown[i].Barcode < r.LineItemBreakdown[j].Barcode
	})

	r.Daily = make([]DailySummary, 0, len(days))
	for _, day := range days {
		r.Daily = append(r.Daily, *day)
	}
	sort.Slice(r.Daily, func(i, j int) bool { return r.Daily[i].Date < r.Daily[j].Date })

	a.logger.Debug("sales report built",
		zap.Int("transactions", r.TotalTransactions),
		zap.Int("voided", r.VoidedTransactions),
		zap.String("revenue", r.TotalRevenue.String()),
	)
	return r, nil
}

func lowStock(products []inventory.Product, override *int) []LowStockItem {
	items := make([]LowStockItem, 0)
	for _, p := range products {
		threshold := p.LowStockThreshold
		if override != nil {
			threshold = *override
		}
		if p.IsLowStock(threshold) {
			items = append(items, LowStockItem{Barcode: p.Barcode, Name: p.Name, Quantity: p.Quantity, Threshold: threshold})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Quantity != items[j].Quantity {
			return items[i].Quantity < items[j].Quantity
		}
		return items[i].Barcode < items[j].Barcode
	})
	return items
}

// LowStockReport lists products at or below their own threshold, or at or
// below override when one is given, lowest quantity first.
func (a *Aggregator) LowStockReport(ctx context.Context, override *int) ([]LowStockItem, error) {
	if override != nil && *override < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, *override)
	}
	products, err := a.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return lowStock(products, override), nil
}

// InventoryReport totals units and stock value over every product.
func (a *Aggregator) InventoryReport(ctx context.Context, override *int) (*InventoryReport, error) {
	if override != nil && *override < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, *override)
	}
	products, err := a.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	r := &InventoryReport{TotalProducts: len(products), TotalValue: decimal.Zero}
	for _, p := range products {
		r.TotalUnits += p.Quantity
		r.TotalValue = r.TotalValue.Add(p.StockValue())
	}
	r.LowStock = lowStock(products, override)
	r.LowStockCount = len(r.LowStock)
	return r, nil
}
