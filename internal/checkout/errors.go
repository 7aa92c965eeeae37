package checkout

import (
	"errors"
	"fmt"

	"pos_engine/internal/pricing"
	"pos_engine/internal/sales"
)

var (
	ErrCartNotFound = errors.New("cart not found")

	// ErrCartNotBuilding is returned when a cart is changed after it was frozen.
	ErrCartNotBuilding = errors.New("cart is not accepting changes")

	// ErrCartClosed is returned when finalizing a cart whose checkout failed.
	ErrCartClosed = errors.New("cart is closed")

	ErrEmptyCart             = errors.New("cart is empty")
	ErrLineNotFound          = errors.New("cart line not found")
	ErrPaymentMethodRequired = errors.New("payment method is required")

	// ErrVoidInProgress is returned to the loser of two concurrent voids. Retryable.
	ErrVoidInProgress = errors.New("void already in progress")

	// ErrPendingReconciliation is returned when voiding a sale that has not
	// been persisted yet.
	ErrPendingReconciliation = errors.New("sale is pending reconciliation")

	ErrSaleNotFound    = sales.ErrNotFound
	ErrInvalidQuantity = pricing.ErrInvalidQuantity
	ErrInvalidDiscount = pricing.ErrInvalidDiscount
)

// LineError points at the first cart line that failed validation.
type LineError struct {
	Index   int
	LineID  string
	Barcode string
	Err     error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (%s): %v", e.Index, e.Barcode, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ReconcileError means stock was committed but the sale record could not be
// persisted. The sale is queued for Reconcile and must not be retried by the
// caller.
type ReconcileError struct {
	Sale *sales.Sale
	Err  error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("sale %s committed but not persisted: %v", e.Sale.ID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}
