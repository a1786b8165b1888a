package reconcile

import (
	"github.com/zombor/exam-quote/internal/catalog"
)

// StrategyManual marks items the operator added by hand
const StrategyManual = "manual_injection"

// Item is one term being resolved to a catalog exam
type Item struct {
	ID             int             `json:"id"`
	SourceTerm     string          `json:"source_term"`
	Status         catalog.Status  `json:"status"`
	Candidates     []catalog.Match `json:"candidates"`
	Selected       *int            `json:"selected"`
	MatchStrategy  string          `json:"match_strategy,omitempty"`
	NormalizedTerm string          `json:"normalized_term,omitempty"`
	BackendStatus  string          `json:"backend_status,omitempty"`
}

// Selection returns the selected candidate of a confirmed item
func (it Item) Selection() (catalog.Match, bool) {
	if it.Status != catalog.StatusConfirmed || it.Selected == nil {
		return catalog.Match{}, false
	}
	i := *it.Selected
	if i < 0 || i >= len(it.Candidates) {
		return catalog.Match{}, false
	}
	return it.Candidates[i], true
}

// Pending reports whether the item still needs an operator choice
func (it Item) Pending() bool {
	return it.Status == catalog.StatusMultiple && it.Selected == nil
}

func (it Item) clone() Item {
	c := it
	c.Candidates = append([]catalog.Match{}, it.Candidates...)
	if it.Selected != nil {
		s := *it.Selected
		c.Selected = &s
	}
	return c
}

func (it *Item) selectIndex(index int) {
	it.Selected = &index
	it.Status = catalog.StatusConfirmed
}

// newItem zips one batch answer into an item. Statuses the workflow does not know,
// and confirmed or multiple answers without matches, become not_found.
func newItem(id int, term string, answer catalog.BatchItem) *Item {
	item := &Item{
		ID:            id,
		SourceTerm:    term,
		Status:        catalog.StatusNotFound,
		Candidates:    []catalog.Match{},
		BackendStatus: string(answer.Status),
	}
	if s, ok := answer.Strategy(); ok {
		item.MatchStrategy = s
	}
	if n, ok := answer.Normalized(); ok {
		item.NormalizedTerm = n
	}

	switch answer.Status {
	case catalog.StatusConfirmed:
		if len(answer.Matches) > 0 {
			item.Candidates = append(item.Candidates, answer.Matches...)
			item.selectIndex(0)
		}
	case catalog.StatusMultiple:
		if len(answer.Matches) > 0 {
			item.Candidates = append(item.Candidates, answer.Matches...)
			item.Status = catalog.StatusMultiple
		}
	}
	return item
}

// Readiness summarizes whether the workflow can move past the confirmation gate
type Readiness struct {
	Pending    int  `json:"pending"`
	Confirmed  int  `json:"confirmed"`
	CanProceed bool `json:"can_proceed"`
}

// ReadinessOf computes the readiness of a set of items.
// Items nothing matched do not block; only ambiguous items without a selection do.
func ReadinessOf(items []Item) Readiness {
	var r Readiness
	for _, it := range items {
		switch {
		case it.Pending():
			r.Pending++
		case it.Status == catalog.StatusConfirmed:
			r.Confirmed++
		}
	}
	r.CanProceed = r.Pending == 0
	return r
}

// ConfirmedExam is a selected catalog exam paired with the term it resolved
type ConfirmedExam struct {
	catalog.Match
	OriginalTerm string `json:"original_term"`
}

// SearchState is the view of one item's manual search scope
type SearchState struct {
	ItemID   int             `json:"item_id"`
	Term     string          `json:"term"`
	InFlight bool            `json:"in_flight"`
	Results  []catalog.Match `json:"results"`
	Error    string          `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the workflow state
type Snapshot struct {
	Unit       string        `json:"unit"`
	Terms      []string      `json:"terms"`
	Items      []Item        `json:"items"`
	Readiness  Readiness     `json:"readiness"`
	Searches   []SearchState `json:"searches"`
	Reconciled bool          `json:"reconciled"`
	Proceeded  bool          `json:"proceeded"`
}
