// Package pricing computes cart totals. Every function here is pure: the same
// cart and rate configuration always produce the same PricedCart.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDiscount is returned for a negative discount or a percentage above 100.
	ErrInvalidDiscount = errors.New("invalid discount")

	// ErrInvalidRate is returned for a negative tax rate or minor unit count.
	ErrInvalidRate = errors.New("invalid rate configuration")

	// ErrInvalidQuantity is returned for a line whose quantity is not positive.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// DefaultMinorUnits is the number of decimal places of the currency.
const DefaultMinorUnits int32 = 2

// RateConfig holds tax rates, expressed in percent, and the currency minor unit.
type RateConfig struct {
	TaxRate       decimal.Decimal            `json:"tax_rate"`
	CategoryRates map[string]decimal.Decimal `json:"category_rates,omitempty"`
	MinorUnits    int32                      `json:"minor_units"`
}

// DefaultRates returns a tax-free configuration rounding to cents.
func DefaultRates() RateConfig {
	return RateConfig{TaxRate: decimal.Zero, MinorUnits: DefaultMinorUnits}
}

// RateFor returns the rate of category, falling back to the global rate.
func (r RateConfig) RateFor(category string) decimal.Decimal {
	if category != "" {
		if rate, ok := r.CategoryRates[category]; ok {
			return rate
		}
	}
	return r.TaxRate
}

// Round rounds half away from zero to the configured minor unit.
func (r RateConfig) Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(r.MinorUnits)
}

func (r RateConfig) Validate() error {
	if r.MinorUnits < 0 {
		return fmt.Errorf("%w: minor units %d", ErrInvalidRate, r.MinorUnits)
	}
	if r.TaxRate.IsNegative() {
		return fmt.Errorf("%w: tax rate %s", ErrInvalidRate, r.TaxRate)
	}
	for category, rate := range r.CategoryRates {
		if rate.IsNegative() {
			return fmt.Errorf("%w: tax rate %s for category %q", ErrInvalidRate, rate, category)
		}
	}
	return nil
}

// Line is one priced input line. Name, UnitPrice and Category are snapshots
// of the product taken when the cart was frozen.
type Line struct {
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category,omitempty"`
	Quantity  int             `json:"quantity"`
	Discount  Discount        `json:"discount"`
}

// Cart is the frozen input of Compute.
type Cart struct {
	Lines    []Line   `json:"lines"`
	Discount Discount `json:"discount"`
}

type PricedLine struct {
	Line
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Total          decimal.Decimal `json:"total"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
}

// PricedCart is the output of Compute. Only Tax and GrandTotal are rounded.
type PricedCart struct {
	Lines         []PricedLine    `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	LineDiscounts decimal.Decimal `json:"line_discounts"`
	LinesTotal    decimal.Decimal `json:"lines_total"`
	CartDiscount  decimal.Decimal `json:"cart_discount"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	Taxable       decimal.Decimal `json:"taxable"`
	Tax           decimal.Decimal `json:"tax"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	MinorUnits    int32           `json:"minor_units"`
}

// Compute prices cart under rates.
func Compute(cart Cart, rates RateConfig) (PricedCart, error) {
	if err := rates.Validate(); err != nil {
		return PricedCart{}, err
	}
	if err := cart.Discount.Validate(); err != nil {
		return PricedCart{}, fmt.Errorf("cart discount: %w", err)
	}

	out := PricedCart{
		Lines:      make([]PricedLine, 0, len(cart.Lines)),
		MinorUnits: rates.MinorUnits,
	}

	subtotal := decimal.Zero
	lineDiscounts := decimal.Zero
	linesTotal := decimal.Zero
	weightedTax := decimal.Zero

	for i, line := range cart.Lines {
		if line.Quantity <= 0 {
			return PricedCart{}, fmt.Errorf("line %d (%s): %w", i, line.Barcode, ErrInvalidQuantity)
		}
		if err := line.Discount.Validate(); err != nil {
			return PricedCart{}, fmt.Errorf("line %d (%s): %w", i, line.Barcode, err)
		}

		lineSubtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		off := line.Discount.amountOff(lineSubtotal)
		lineTotal := lineSubtotal.Sub(off)
		rate := rates.RateFor(line.Category)

		out.Lines = append(out.Lines, PricedLine{
			Line:           line,
			Subtotal:       lineSubtotal,
			DiscountAmount: off,
			Total:          lineTotal,
			TaxRate:        rate,
		})

		subtotal = subtotal.Add(lineSubtotal)
		lineDiscounts = lineDiscounts.Add(off)
		linesTotal = linesTotal.Add(lineTotal)
		weightedTax = weightedTax.Add(lineTotal.Mul(rate))
	}

	cartOff := cart.Discount.amountOff(linesTotal)
	taxable := linesTotal.Sub(cartOff)

	// The cart discount is spread over lines in proportion to their totals,
	// so each category keeps its own rate.
	tax := decimal.Zero
	if linesTotal.Sign() > 0 {
		tax = quoRound(weightedTax.Mul(taxable), linesTotal.Mul(hundred), rates.MinorUnits)
	}

	out.Subtotal = subtotal
	out.LineDiscounts = lineDiscounts
	out.LinesTotal = linesTotal
	out.CartDiscount = cartOff
	out.DiscountTotal = lineDiscounts.Add(cartOff)
	out.Taxable = taxable
	out.Tax = tax
	out.GrandTotal = rates.Round(taxable.Add(tax))
	return out, nil
}

// quoRound returns num/den rounded half away from zero to places, deciding
// the rounding on the exact remainder rather than a truncated quotient.
func quoRound(num, den decimal.Decimal, places int32) decimal.Decimal {
	q, r := num.QuoRem(den, places)
	unit := decimal.New(1, -places)
	if r.Abs().Mul(decimal.NewFromInt(2)).Cmp(den.Abs().Mul(unit)) >= 0 {
		if num.Sign()*den.Sign() < 0 {
			return q.Sub(unit)
		}
		return q.Add(unit)
	}
	return q
}
