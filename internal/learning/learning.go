package learning

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
)

// Correction pairs the term read from an order with the exam the operator accepted for it
type Correction struct {
	OriginalTerm string
	AcceptedName string
}

// Sink receives learning reports
type Sink interface {
	Learn(ctx context.Context, originalTerm string, acceptedName string) error
}

// MissingTermRecorder receives terms that were dropped from a quote because nothing matched them
type MissingTermRecorder interface {
	RecordMissing(ctx context.Context, unit string, term string) error
}

// Key folds a term into the form used for comparisons and journal keys
func Key(term string) string {
	return cases.Fold().String(strings.TrimSpace(term))
}

// Divergent reports whether the accepted exam name differs from the original term,
// ignoring surrounding space and case. Blank original terms never diverge.
func Divergent(originalTerm string, acceptedName string) bool {
	original := Key(originalTerm)
	if original == "" {
		return false
	}
	return original != Key(acceptedName)
}
