package service

import (
	"errors"
	"fmt"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/xid"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrLockBusy  = errors.New("operation already in progress")

	// Checkout failure kinds, ordered by how far the sale got.
	ErrSaleNotRecorded  = errors.New("sale not recorded")
	ErrInconsistentSale = errors.New("sale header recorded without items")
	ErrStockDesync      = errors.New("sale recorded but stock not reconciled")

	// Cancellation failure kinds.
	ErrCancelFlag   = errors.New("sale item cancellation not recorded")
	ErrStockRestore = errors.New("sale item cancelled but stock not restored")
)

// CheckoutError reports the last durable state a checkout reached. Both the
// kind and the underlying cause match errors.Is.
type CheckoutError struct {
	Kind   error
	State  domain.CheckoutState
	SaleID string
	Err    error
}

func (e *CheckoutError) Error() string {
	if e.SaleID == "" {
		return fmt.Sprintf("%v (state %s): %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%v (sale %s, state %s): %v", e.Kind, xid.Short(e.SaleID), e.State, e.Err)
}

func (e *CheckoutError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

type CancelError struct {
	Kind       error
	SaleItemID string
	Err        error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("%v (item %s): %v", e.Kind, xid.Short(e.SaleItemID), e.Err)
}

func (e *CancelError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Guidance is the operator instruction shown next to a saga failure.
func Guidance(err error) string {
	switch {
	case errors.Is(err, ErrSaleNotRecorded):
		return "Nothing was saved. The sale can be submitted again."
	case errors.Is(err, ErrInconsistentSale):
		return "The sale header exists without its items. Do not resubmit; ask an administrator to review the sale."
	case errors.Is(err, ErrStockDesync):
		return "The sale is recorded but stock was not decremented. Do not resubmit; an administrator must reconcile the sale."
	case errors.Is(err, ErrCancelFlag):
		return "The item was not cancelled. Check the sale and try again."
	case errors.Is(err, ErrStockRestore):
		return "The item is cancelled but its stock was not restored. Retry the stock restore."
	default:
		return ""
	}
}

// KindName returns the machine-readable name of a saga failure kind.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrSaleNotRecorded):
		return "sale_not_recorded"
	case errors.Is(err, ErrInconsistentSale):
		return "inconsistent_sale"
	case errors.Is(err, ErrStockDesync):
		return "stock_desync"
	case errors.Is(err, ErrCancelFlag):
		return "cancel_flag_failed"
	case errors.Is(err, ErrStockRestore):
		return "stock_restore_failed"
	default:
		return ""
	}
}
