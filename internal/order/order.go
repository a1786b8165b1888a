package order

import (
	"errors"
	"time"

	"github.com/zombor/exam-quote/internal/quote"
	"github.com/zombor/exam-quote/internal/reconcile"
	"github.com/zombor/exam-quote/internal/scanning"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrExtractionFailed = errors.New("extraction failed")
	ErrEmptyUpload      = errors.New("uploaded file is empty")
	ErrNoJournal        = errors.New("learning journal not configured")
)

// Order is an uploaded exam order and what was read from it
type Order struct {
	ID          string               `json:"id"`
	Unit        string               `json:"unit"`
	Filename    string               `json:"filename"`
	ContentType string               `json:"content_type"`
	Extraction  *scanning.Extraction `json:"extraction"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// View is an order together with the state of its reconciliation
type View struct {
	Order
	Reconciliation reconcile.Snapshot `json:"reconciliation"`
}

// Summary is the short form of an order used in listings
type Summary struct {
	ID        string              `json:"id"`
	Unit      string              `json:"unit"`
	Filename  string              `json:"filename"`
	Lines     int                 `json:"lines"`
	Items     int                 `json:"items"`
	Readiness reconcile.Readiness `json:"readiness"`
	CreatedAt time.Time           `json:"created_at"`
}

// Result is what an order produces once the operator confirms the exam list
type Result struct {
	OrderID string                    `json:"order_id"`
	Exams   []reconcile.ConfirmedExam `json:"exams"`
	Quote   quote.Summary             `json:"quote"`
}
