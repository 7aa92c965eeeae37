package checkout

import (
	"sync"
	"time"

	"pos_engine/internal/pricing"
	"pos_engine/internal/sales"
)

// State is the checkout state of a cart.
type State string

const (
	StateBuilding   State = "BUILDING"
	StatePricing    State = "PRICING"
	StateCommitting State = "COMMITTING"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
)

// CartLine is one requested line. The same barcode may appear on several lines.
type CartLine struct {
	ID       string           `json:"id"`
	Barcode  string           `json:"barcode"`
	Quantity int              `json:"quantity"`
	Discount pricing.Discount `json:"discount"`
}

// CartView is a read-only copy of a cart.
type CartView struct {
	ID        string           `json:"id"`
	State     State            `json:"state"`
	Lines     []CartLine       `json:"lines"`
	Discount  pricing.Discount `json:"discount"`
	SaleID    string           `json:"sale_id,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type cart struct {
	mu        sync.Mutex
	id        string
	lines     []CartLine
	discount  pricing.Discount
	state     State
	sale      *sales.Sale
	failure   error
	createdAt time.Time
}

func (c *cart) view() CartView {
	v := CartView{
		ID:        c.id,
		State:     c.state,
		Lines:     append([]CartLine{}, c.lines...),
		Discount:  c.discount,
		CreatedAt: c.createdAt,
	}
	if c.sale != nil {
		v.SaleID = c.sale.ID
	}
	if c.failure != nil {
		v.Error = c.failure.Error()
	}
	return v
}

func (c *cart) lineIndex(lineID string) int {
	for i, l := range c.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *cart) fail(err error) error {
	c.state = StateFailed
	c.failure = err
	return err
}

// aggregate sums the requested quantity per barcode.
func aggregate(lines []CartLine) map[string]int {
	d := make(map[string]int, len(lines))
	for _, l := range lines {
		d[l.Barcode] += l.Quantity
	}
	return d
}
