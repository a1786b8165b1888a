package quote

import (
	"github.com/shopspring/decimal"

	"github.com/zombor/exam-quote/internal/reconcile"
)

// Plan is a membership plan that discounts every exam by a fraction
type Plan struct {
	Name     string          `json:"name"`
	Discount decimal.Decimal `json:"discount"`
}

// DefaultPlans are the membership plans offered at the counter
var DefaultPlans = []Plan{
	{Name: "Safira", Discount: decimal.RequireFromString("0.20")},
	{Name: "Diamante", Discount: decimal.RequireFromString("0.30")},
}

// Line is one priced exam of a quote
type Line struct {
	OriginalTerm string          `json:"original_term"`
	ItemID       string          `json:"item_id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
}

// PlanQuote is the quote total under one plan
type PlanQuote struct {
	Name    string          `json:"name"`
	Total   decimal.Decimal `json:"total"`
	Savings decimal.Decimal `json:"savings"`
}

// Summary is the priced quote for a confirmed exam list
type Summary struct {
	Unit  string          `json:"unit"`
	Lines []Line          `json:"lines"`
	Total decimal.Decimal `json:"total"`
	Plans []PlanQuote     `json:"plans"`
}

// Summarize prices the confirmed exams under the default plans
func Summarize(unit string, exams []reconcile.ConfirmedExam) Summary {
	return SummarizeWithPlans(unit, exams, DefaultPlans)
}

// SummarizeWithPlans prices the confirmed exams under the given plans.
// Amounts are rounded to cents.
func SummarizeWithPlans(unit string, exams []reconcile.ConfirmedExam, plans []Plan) Summary {
	s := Summary{
		Unit:  unit,
		Lines: make([]Line, 0, len(exams)),
		Total: decimal.Zero,
		Plans: make([]PlanQuote, 0, len(plans)),
	}

	for _, e := range exams {
		s.Lines = append(s.Lines, Line{
			OriginalTerm: e.OriginalTerm,
			ItemID:       string(e.ItemID),
			Name:         e.Name,
			Price:        e.Price,
		})
		s.Total = s.Total.Add(e.Price)
	}
	s.Total = s.Total.Round(2)

	for _, p := range plans {
		savings := s.Total.Mul(p.Discount).Round(2)
		s.Plans = append(s.Plans, PlanQuote{
			Name:    p.Name,
			Total:   s.Total.Sub(savings),
			Savings: savings,
		})
	}
	return s
}
