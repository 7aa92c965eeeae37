package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DiscountKind is the discriminant of a Discount.
type DiscountKind string

const (
	DiscountNone    DiscountKind = ""
	DiscountPercent DiscountKind = "percent"
	DiscountAmount  DiscountKind = "amount"
)

var hundred = decimal.NewFromInt(100)

// Discount is either a percentage in [0,100] or an absolute amount.
type Discount struct {
	Kind  DiscountKind    `json:"type,omitempty"`
	Value decimal.Decimal `json:"value"`
}

// NoDiscount returns the zero discount.
func NoDiscount() Discount {
	return Discount{}
}

// Percent builds a percentage discount.
func Percent(p decimal.Decimal) Discount {
	return Discount{Kind: DiscountPercent, Value: p}
}

// Amount builds an absolute discount.
func Amount(a decimal.Decimal) Discount {
	return Discount{Kind: DiscountAmount, Value: a}
}

// IsZero reports whether the discount takes nothing off.
func (d Discount) IsZero() bool {
	return d.Kind == DiscountNone || d.Value.IsZero()
}

// Validate returns ErrInvalidDiscount for negative values, percentages above
// 100 and unknown kinds.
func (d Discount) Validate() error {
	switch d.Kind {
	case DiscountNone:
		if !d.Value.IsZero() {
			return fmt.Errorf("%w: value %s given without a discount type", ErrInvalidDiscount, d.Value)
		}
		return nil
	case DiscountPercent:
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: negative percentage %s", ErrInvalidDiscount, d.Value)
		}
		if d.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s exceeds 100", ErrInvalidDiscount, d.Value)
		}
		return nil
	case DiscountAmount:
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: negative amount %s", ErrInvalidDiscount, d.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, d.Kind)
	}
}

// amountOff returns how much the discount takes off base, clipped so the
// result never drops below zero. No rounding is applied.
func (d Discount) amountOff(base decimal.Decimal) decimal.Decimal {
	if base.Sign() <= 0 {
		return decimal.Zero
	}
	var off decimal.Decimal
	switch d.Kind {
	case DiscountPercent:
		off = base.Mul(d.Value).Shift(-2)
	case DiscountAmount:
		off = d.Value
	default:
		return decimal.Zero
	}
	if off.GreaterThan(base) {
		return base
	}
	return off
}
