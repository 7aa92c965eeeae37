package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultLockTimeout bounds how long a stock mutation waits for its locks.
const DefaultLockTimeout = 2 * time.Second

// Store is the authoritative holder of products and on-hand quantities.
//
// ReserveAndCommit and Restore are the only operations that change stock
// during a sale. Both apply the whole deduction map or nothing.
type Store interface {
	GetProduct(ctx context.Context, barcode string) (Product, error)
	GetQuantity(ctx context.Context, barcode string) (int, error)

	// ReserveAndCommit subtracts every deduction, or returns
	// *InsufficientStockError / *NotFoundError / ErrBusy and changes nothing.
	ReserveAndCommit(ctx context.Context, deductions map[string]int) error

	// Restore adds quantities back. Barcodes that no longer exist are
	// skipped and returned.
	Restore(ctx context.Context, deductions map[string]int) ([]string, error)

	Upsert(ctx context.Context, p Product) error
	Delete(ctx context.Context, barcode string) error
	List(ctx context.Context) ([]Product, error)
	Search(ctx context.Context, keyword string) ([]Product, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	lockTimeout time.Duration
}

// WithLockTimeout sets the bounded wait of stock mutations.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateDeductions(deductions map[string]int) error {
	for barcode, qty := range deductions {
		if barcode == "" {
			return ErrEmptyBarcode
		}
		if qty <= 0 {
			return fmt.Errorf("%w: %q requested %d", ErrInvalidQuantity, barcode, qty)
		}
	}
	return nil
}

// sortedBarcodes gives the fixed lock order shared by every implementation.
func sortedBarcodes(deductions map[string]int) []string {
	barcodes := make([]string, 0, len(deductions))
	for barcode := range deductions {
		barcodes = append(barcodes, barcode)
	}
	sort.Strings(barcodes)
	return barcodes
}

// timeoutMillis rounds d up to whole milliseconds. Postgres reads a zero
// lock_timeout as no limit, so the result is at least 1.
func timeoutMillis(d time.Duration) int64 {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		return 1
	}
	return int64(ms)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern is a substring LIKE pattern matching keyword literally, for use
// with ESCAPE '\'.
func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

func matches(p Product, keyword string) bool {
	kw := strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(p.Name), kw) || strings.Contains(strings.ToLower(p.Barcode), kw)
}
