package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("product not found")

	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrBusy means a stock lock could not be taken in time. Callers may retry.
	ErrBusy = errors.New("inventory busy")

	// ErrInvalidQuantity is returned for a deduction that is not positive.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInvalidProduct is returned when a product fails validation.
	ErrInvalidProduct = errors.New("invalid product")

	// ErrEmptyBarcode is returned when trying to store a product without a barcode.
	ErrEmptyBarcode = errors.New("empty barcode")
)

type NotFoundError struct {
	Barcode string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.Barcode)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientStockError reports the first barcode whose deduction would
// drive its quantity negative.
type InsufficientStockError struct {
	Barcode   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.Barcode, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
