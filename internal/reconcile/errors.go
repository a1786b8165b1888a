package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTermsExtracted is returned when nothing usable was read from the order
	ErrNoTermsExtracted = errors.New("no exam terms extracted")
	ErrItemNotFound     = errors.New("item not found")
	ErrIndexOutOfRange  = errors.New("index out of range")
	// ErrPendingItems is returned by Proceed while ambiguous items have no selection
	ErrPendingItems      = errors.New("items awaiting selection")
	ErrSearchInFlight    = errors.New("search already in flight for item")
	ErrStaleSearch       = errors.New("search result superseded")
	ErrSearchClosed      = errors.New("search is not open for item")
	ErrReconcileInFlight = errors.New("reconciliation already in flight")
	ErrNotReconciled     = errors.New("exam list has not been validated")
	// ErrAlreadyProceeded is returned once the exam list was confirmed and handed to learning
	ErrAlreadyProceeded = errors.New("exam list already confirmed")
)

// BatchError is returned when batch validation fails. The same terms can be resubmitted.
type BatchError struct {
	Message string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("validating exam list: %s: %v", e.Message, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// SearchError is returned when a manual search for one item fails
type SearchError struct {
	ItemID int
	Term   string
	Err    error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("searching %q for item %d: %v", e.Term, e.ItemID, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
