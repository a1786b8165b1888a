package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Status is the match status the catalog assigns to a submitted term
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusMultiple  Status = "multiple"
	StatusNotFound  Status = "not_found"
)

// ItemID identifies a billable exam. The catalog sends it either as a number or a string.
type ItemID string

// UnmarshalJSON accepts JSON strings, numbers and null
func (id *ItemID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*id = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ItemID(v)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("item_id: %w", err)
		}
		*id = ItemID(n.String())
		return nil
	}
}

// Match is one catalog entry proposed for a term
type Match struct {
	ItemID ItemID          `json:"item_id"`
	Name   string          `json:"item_name"`
	Price  decimal.Decimal `json:"price"`
}

func (m Match) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("match %q has no item_name", m.ItemID)
	}
	if m.Price.IsNegative() {
		return fmt.Errorf("match %q has negative price %s", m.Name, m.Price)
	}
	return nil
}

// BatchItem is the catalog's answer for one submitted term.
// Optional fields are pointers so an absent field is distinguishable from an empty one.
type BatchItem struct {
	Term           string  `json:"term"`
	Status         Status  `json:"status"`
	Matches        []Match `json:"matches"`
	MatchStrategy  *string `json:"match_strategy,omitempty"`
	NormalizedTerm *string `json:"normalized_term,omitempty"`
}

// Strategy returns the match strategy, if the catalog sent one
func (b BatchItem) Strategy() (string, bool) {
	if b.MatchStrategy == nil {
		return "", false
	}
	return *b.MatchStrategy, true
}

// Normalized returns the normalized term, if the catalog sent one
func (b BatchItem) Normalized() (string, bool) {
	if b.NormalizedTerm == nil {
		return "", false
	}
	return *b.NormalizedTerm, true
}

// BatchResponse is the body of a batch validation call
type BatchResponse struct {
	Items *[]BatchItem   `json:"items"`
	Stats map[string]any `json:"stats"`
}

// validate checks the response lines up 1:1 with the submitted terms
func (r *BatchResponse) validate(terms []string) error {
	if r.Items == nil {
		return fmt.Errorf("%w: response has no items array", ErrMalformedResponse)
	}
	if got := len(*r.Items); got != len(terms) {
		return fmt.Errorf("%w: got %d items for %d terms", ErrMalformedResponse, got, len(terms))
	}
	for i, item := range *r.Items {
		for _, m := range item.Matches {
			if err := m.validate(); err != nil {
				return fmt.Errorf("%w: item %d: %v", ErrMalformedResponse, i, err)
			}
		}
	}
	return nil
}

type batchRequest struct {
	Terms []string `json:"terms"`
	Unit  string   `json:"unit"`
}

type searchRequest struct {
	Term string `json:"term"`
	Unit string `json:"unit"`
}

type searchResponse struct {
	Exams []Match `json:"exams"`
}

type learnRequest struct {
	OriginalTerm    string `json:"original_term"`
	CorrectExamName string `json:"correct_exam_name"`
}
