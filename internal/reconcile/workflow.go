package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zombor/exam-quote/internal/catalog"
	"github.com/zombor/exam-quote/internal/learning"
)

// DefaultSearchInterval is the minimum time between two catalog searches for the same item
const DefaultSearchInterval = 300 * time.Millisecond

// Catalog resolves terms against the billable exam catalog
type Catalog interface {
	ValidateList(ctx context.Context, unit string, terms []string) (*catalog.BatchResponse, error)
	SearchExams(ctx context.Context, unit string, term string) ([]catalog.Match, error)
}

// Learner receives the outcome of a confirmed workflow. Both calls must return without waiting on I/O.
type Learner interface {
	Dispatch(ctx context.Context, corrections []learning.Correction) int
	DispatchMissing(ctx context.Context, unit string, terms []string)
}

// Workflow holds the reconciliation state of one order. It is safe for concurrent use;
// catalog calls are made without holding the lock.
type Workflow struct {
	mu sync.Mutex

	catalog     Catalog
	learner     Learner
	unit        string
	searchLimit rate.Limit

	terms       []string
	items       []*Item
	searches    map[int]*searchScope
	reconciling bool
	reconciled  bool
	proceeded   bool
}

// NewWorkflow creates a workflow for one unit
func NewWorkflow(c Catalog, learner Learner, unit string) *Workflow {
	return NewWorkflowWithDeps(c, learner, unit, rate.Every(DefaultSearchInterval))
}

// NewWorkflowWithDeps creates a workflow with a custom per-item search rate
func NewWorkflowWithDeps(c Catalog, learner Learner, unit string, searchLimit rate.Limit) *Workflow {
	return &Workflow{
		catalog:     c,
		learner:     learner,
		unit:        unit,
		searchLimit: searchLimit,
		items:       []*Item{},
		searches:    make(map[int]*searchScope),
	}
}

// Unit returns the unit the workflow prices against
func (w *Workflow) Unit() string {
	return w.unit
}

// Reconcile validates every term in one batch request and replaces the item set with
// one item per term, in order. Running it again with the same terms is safe.
func (w *Workflow) Reconcile(ctx context.Context, terms []string) ([]Item, error) {
	terms = cleanTerms(terms)
	if len(terms) == 0 {
		return nil, ErrNoTermsExtracted
	}

	w.mu.Lock()
	if w.reconciling {
		w.mu.Unlock()
		return nil, ErrReconcileInFlight
	}
	w.reconciling = true
	unit := w.unit
	w.mu.Unlock()

	slog.Info("Validating exam list", "unit", unit, "terms", len(terms))
	resp, err := w.catalog.ValidateList(ctx, unit, terms)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.reconciling = false

	if err != nil {
		slog.Error("Exam list validation failed", "unit", unit, "error", err)
		return nil, &BatchError{Message: batchMessage(err), Err: err}
	}
	if resp == nil || resp.Items == nil || len(*resp.Items) != len(terms) {
		err := fmt.Errorf("%w: expected %d items", catalog.ErrMalformedResponse, len(terms))
		return nil, &BatchError{Message: batchMessage(err), Err: err}
	}

	items := make([]*Item, 0, len(terms))
	searches := make(map[int]*searchScope)
	for i, answer := range *resp.Items {
		item := newItem(i+1, terms[i], answer)
		items = append(items, item)
		if item.Status == catalog.StatusNotFound {
			searches[item.ID] = w.newScope()
		}
	}

	w.terms = terms
	w.items = items
	w.searches = searches
	w.reconciled = true

	r := ReadinessOf(w.itemsLocked())
	slog.Info("Exam list validated", "unit", unit, "items", len(items), "confirmed", r.Confirmed, "pending", r.Pending)
	return w.itemsLocked(), nil
}

func batchMessage(err error) string {
	var statusErr *catalog.StatusError
	switch {
	case errors.As(err, &statusErr):
		return fmt.Sprintf("catalog returned status %d", statusErr.Code)
	case errors.Is(err, catalog.ErrMalformedResponse):
		return "catalog response did not match the submitted terms"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "catalog request did not complete"
	default:
		return "catalog unreachable"
	}
}

// Items returns a copy of the current items in order
func (w *Workflow) Items() []Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.itemsLocked()
}

func (w *Workflow) itemsLocked() []Item {
	out := make([]Item, 0, len(w.items))
	for _, it := range w.items {
		out = append(out, it.clone())
	}
	return out
}

// Item returns a copy of one item
func (w *Workflow) Item(itemID int) (Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, _ := w.findLocked(itemID)
	if item == nil {
		return Item{}, ErrItemNotFound
	}
	return item.clone(), nil
}

func (w *Workflow) findLocked(itemID int) (*Item, int) {
	for i, it := range w.items {
		if it.ID == itemID {
			return it, i
		}
	}
	return nil, -1
}

// Select resolves an item to one of its candidates
func (w *Workflow) Select(itemID int, index int) (Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, _ := w.findLocked(itemID)
	if item == nil {
		return Item{}, ErrItemNotFound
	}
	if index < 0 || index >= len(item.Candidates) {
		return Item{}, fmt.Errorf("selecting candidate %d of %d: %w", index, len(item.Candidates), ErrIndexOutOfRange)
	}
	item.selectIndex(index)
	return item.clone(), nil
}

// Remove deletes an item. Other items keep their ids and state, and any search
// outstanding for the removed item is discarded when it returns.
func (w *Workflow) Remove(itemID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, i := w.findLocked(itemID)
	if i < 0 {
		return ErrItemNotFound
	}
	w.items = append(w.items[:i], w.items[i+1:]...)
	delete(w.searches, itemID)
	return nil
}

// AddManual appends a blank item for an exam the extraction missed and opens its search
func (w *Workflow) AddManual() Item {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := 1
	for _, it := range w.items {
		if it.ID >= id {
			id = it.ID + 1
		}
	}
	item := &Item{
		ID:            id,
		Status:        catalog.StatusNotFound,
		Candidates:    []catalog.Match{},
		MatchStrategy: StrategyManual,
	}
	w.items = append(w.items, item)
	w.searches[id] = w.newScope()
	return item.clone()
}

// Readiness reports whether the workflow can proceed
func (w *Workflow) Readiness() Readiness {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ReadinessOf(w.itemsLocked())
}

// Snapshot returns a consistent copy of the whole workflow
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	items := w.itemsLocked()
	searches := make([]SearchState, 0, len(w.searches))
	for id, scope := range w.searches {
		if !scope.open {
			continue
		}
		searches = append(searches, scope.state(id))
	}
	sort.Slice(searches, func(i, j int) bool { return searches[i].ItemID < searches[j].ItemID })

	return Snapshot{
		Unit:       w.unit,
		Terms:      append([]string{}, w.terms...),
		Items:      items,
		Readiness:  ReadinessOf(items),
		Searches:   searches,
		Reconciled: w.reconciled,
		Proceeded:  w.proceeded,
	}
}

// Proceed materializes the confirmed exams in item order and hands them to the learner.
// Items without a confirmed selection are left out. Learning runs in the background and
// fires only on the first successful call; later calls return ErrAlreadyProceeded.
func (w *Workflow) Proceed(ctx context.Context) ([]ConfirmedExam, error) {
	w.mu.Lock()
	if !w.reconciled {
		w.mu.Unlock()
		return nil, ErrNotReconciled
	}
	if w.proceeded {
		w.mu.Unlock()
		return nil, ErrAlreadyProceeded
	}
	items := w.itemsLocked()
	r := ReadinessOf(items)
	if !r.CanProceed {
		w.mu.Unlock()
		return nil, fmt.Errorf("%d of %d: %w", r.Pending, len(items), ErrPendingItems)
	}
	w.proceeded = true
	w.mu.Unlock()

	exams := make([]ConfirmedExam, 0, r.Confirmed)
	corrections := make([]learning.Correction, 0, r.Confirmed)
	var missing []string
	for _, it := range items {
		match, ok := it.Selection()
		if !ok {
			if it.Status == catalog.StatusNotFound && it.SourceTerm != "" {
				missing = append(missing, it.SourceTerm)
			}
			continue
		}
		exams = append(exams, ConfirmedExam{Match: match, OriginalTerm: it.SourceTerm})
		corrections = append(corrections, learning.Correction{OriginalTerm: it.SourceTerm, AcceptedName: match.Name})
	}

	if w.learner != nil {
		reported := w.learner.Dispatch(ctx, corrections)
		if len(missing) > 0 {
			w.learner.DispatchMissing(ctx, w.unit, missing)
		}
		slog.Info("Exam list confirmed", "unit", w.unit, "exams", len(exams), "dropped", len(missing), "learning_reports", reported)
	}
	return exams, nil
}
