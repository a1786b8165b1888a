package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zombor/exam-quote/internal/catalog"
)

// searchScope is the manual search of a single item. Each reopen or close bumps the
// generation so responses issued before it are discarded.
type searchScope struct {
	open       bool
	generation uint64
	inFlight   bool
	term       string
	results    []catalog.Match
	err        string
	limiter    *rate.Limiter
}

func (w *Workflow) newScope() *searchScope {
	return &searchScope{
		open:    true,
		results: []catalog.Match{},
		limiter: rate.NewLimiter(w.searchLimit, 1),
	}
}

func (s *searchScope) reset(open bool) {
	s.open = open
	s.generation++
	s.term = ""
	s.results = []catalog.Match{}
	s.err = ""
}

func (s *searchScope) state(itemID int) SearchState {
	return SearchState{
		ItemID:   itemID,
		Term:     s.term,
		InFlight: s.inFlight,
		Results:  append([]catalog.Match{}, s.results...),
		Error:    s.err,
	}
}

// OpenSearch opens a fresh manual search for an item, discarding any earlier results
func (w *Workflow) OpenSearch(itemID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item, _ := w.findLocked(itemID); item == nil {
		return ErrItemNotFound
	}
	scope, ok := w.searches[itemID]
	if !ok {
		w.searches[itemID] = w.newScope()
		return nil
	}
	scope.reset(true)
	return nil
}

// Search looks term up in the catalog for one item. Terms shorter than two characters
// return no results without a request. Only one search per item may be outstanding.
func (w *Workflow) Search(ctx context.Context, itemID int, term string) ([]catalog.Match, error) {
	term = strings.TrimSpace(term)

	w.mu.Lock()
	if item, _ := w.findLocked(itemID); item == nil {
		w.mu.Unlock()
		return nil, ErrItemNotFound
	}
	scope, ok := w.searches[itemID]
	if !ok || !scope.open {
		w.mu.Unlock()
		return nil, ErrSearchClosed
	}
	if scope.inFlight {
		w.mu.Unlock()
		return nil, ErrSearchInFlight
	}
	if !usableTerm(term) {
		scope.term = term
		scope.results = []catalog.Match{}
		scope.err = ""
		w.mu.Unlock()
		return []catalog.Match{}, nil
	}
	scope.inFlight = true
	generation := scope.generation
	unit := w.unit
	w.mu.Unlock()

	results, err := w.searchCatalog(ctx, scope.limiter, unit, term)

	w.mu.Lock()
	defer w.mu.Unlock()
	scope.inFlight = false

	if current, ok := w.searches[itemID]; !ok || current != scope || !scope.open || scope.generation != generation {
		slog.Debug("Discarding stale search result", "item_id", itemID, "term", term)
		return nil, ErrStaleSearch
	}

	scope.term = term
	if err != nil {
		slog.Warn("Manual search failed", "item_id", itemID, "term", term, "error", err)
		scope.results = []catalog.Match{}
		scope.err = err.Error()
		return nil, &SearchError{ItemID: itemID, Term: term, Err: err}
	}
	scope.results = append([]catalog.Match{}, results...)
	scope.err = ""
	return append([]catalog.Match{}, results...), nil
}

func (w *Workflow) searchCatalog(ctx context.Context, limiter *rate.Limiter, unit string, term string) ([]catalog.Match, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return w.catalog.SearchExams(ctx, unit, term)
}

// SearchResults returns the latest results of an item's open search
func (w *Workflow) SearchResults(itemID int) ([]catalog.Match, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item, _ := w.findLocked(itemID); item == nil {
		return nil, ErrItemNotFound
	}
	scope, ok := w.searches[itemID]
	if !ok || !scope.open {
		return nil, ErrSearchClosed
	}
	return append([]catalog.Match{}, scope.results...), nil
}

// Attach appends match to the item's candidates, selects it and closes the item's search
func (w *Workflow) Attach(itemID int, match catalog.Match) (Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attachLocked(itemID, match)
}

// AttachResult attaches one of the results of the item's open search
func (w *Workflow) AttachResult(itemID int, resultIndex int) (Item, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if item, _ := w.findLocked(itemID); item == nil {
		return Item{}, ErrItemNotFound
	}
	scope, ok := w.searches[itemID]
	if !ok || !scope.open {
		return Item{}, ErrSearchClosed
	}
	if scope.inFlight {
		return Item{}, ErrSearchInFlight
	}
	if resultIndex < 0 || resultIndex >= len(scope.results) {
		return Item{}, ErrIndexOutOfRange
	}
	return w.attachLocked(itemID, scope.results[resultIndex])
}

func (w *Workflow) attachLocked(itemID int, match catalog.Match) (Item, error) {
	item, _ := w.findLocked(itemID)
	if item == nil {
		return Item{}, ErrItemNotFound
	}
	scope := w.searches[itemID]
	if scope != nil && scope.inFlight {
		return Item{}, ErrSearchInFlight
	}

	item.Candidates = append(item.Candidates, match)
	item.selectIndex(len(item.Candidates) - 1)
	if scope != nil {
		scope.reset(false)
	}
	return item.clone(), nil
}

// CancelSearch closes an item's search. An item with no candidates keeps its search
// open since there is nothing else to choose from.
func (w *Workflow) CancelSearch(itemID int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	item, _ := w.findLocked(itemID)
	if item == nil {
		return ErrItemNotFound
	}
	if len(item.Candidates) == 0 {
		return nil
	}
	if scope, ok := w.searches[itemID]; ok {
		scope.reset(false)
	}
	return nil
}
