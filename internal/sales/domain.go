package sales

import (
	"fmt"
	"strings"
	"time"

	"pos_engine/internal/pricing"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a committed sale.
type Status string

const (
	StatusCommitted Status = "COMMITTED"
	StatusVoiding   Status = "VOIDING"
	StatusVoided    Status = "VOIDED"
)

// ParseStatus accepts a status in any letter case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(s)); st {
	case StatusCommitted, StatusVoiding, StatusVoided:
		return st, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidStatus, s)
}

// Line is a committed sale line. Name, UnitPrice and Category are frozen
// snapshots of the product at commit time.
type Line struct {
	Barcode        string           `json:"barcode"`
	Name           string           `json:"name"`
	UnitPrice      decimal.Decimal  `json:"unit_price"`
	Category       string           `json:"category,omitempty"`
	Quantity       int              `json:"quantity"`
	Discount       pricing.Discount `json:"discount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	LineTotal      decimal.Decimal  `json:"line_total"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
}

// Sale represents a committed checkout.
type Sale struct {
	ID            string          `json:"id"`
	Number        int64           `json:"number,string"`
	CartID        string          `json:"cart_id"`
	Lines         []Line          `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	Tax           decimal.Decimal `json:"tax"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaymentMethod string          `json:"payment_method"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// LinesFromPriced copies the priced lines into their committed form.
func LinesFromPriced(priced []pricing.PricedLine) []Line {
	lines := make([]Line, 0, len(priced))
	for _, pl := range priced {
		lines = append(lines, Line{
			Barcode:        pl.Barcode,
			Name:           pl.Name,
			UnitPrice:      pl.UnitPrice,
			Category:       pl.Category,
			Quantity:       pl.Quantity,
			Discount:       pl.Discount,
			DiscountAmount: pl.DiscountAmount,
			LineTotal:      pl.Total,
			TaxRate:        pl.TaxRate,
		})
	}
	return lines
}

// Deductions sums line quantities per barcode.
func (s *Sale) Deductions() map[string]int {
	d := make(map[string]int, len(s.Lines))
	for _, l := range s.Lines {
		d[l.Barcode] += l.Quantity
	}
	return d
}

// Voided reports whether the sale no longer counts as revenue.
func (s *Sale) Voided() bool {
	return s.Status == StatusVoided
}

// Clone returns a copy that shares no slices with s.
func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	c := *s
	c.Lines = append([]Line(nil), s.Lines...)
	return &c
}
