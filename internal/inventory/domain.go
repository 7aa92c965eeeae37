package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Product is a sellable item keyed by barcode.
type Product struct {
	Barcode           string          `json:"barcode"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Category          string          `json:"category,omitempty"`
}

// Validate checks the invariants every stored product must hold.
func (p Product) Validate() error {
	if p.Barcode == "" {
		return ErrEmptyBarcode
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: negative price %s", ErrInvalidProduct, p.Price)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: negative quantity %d", ErrInvalidProduct, p.Quantity)
	}
	if p.LowStockThreshold < 0 {
		return fmt.Errorf("%w: negative low stock threshold %d", ErrInvalidProduct, p.LowStockThreshold)
	}
	return nil
}

// IsLowStock reports whether the on-hand quantity is at or below threshold.
func (p Product) IsLowStock(threshold int) bool {
	return p.Quantity <= threshold
}

// StockValue is price times on-hand quantity.
func (p Product) StockValue() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}
