package reconcile

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zombor/exam-quote/internal/scanning"
)

const minTermLength = 2

// stopWords mark boilerplate lines of a free-text order
var stopWords = []string{"solicito", "pedido", "data", "assinatura", "dr", "crm", "paciente", ":", "médico"}

var lower = cases.Lower(language.BrazilianPortuguese)

// DeriveTerms picks the terms to reconcile from an extraction. Corrected line readings
// are used when the extraction has lines; otherwise the raw text is split on newlines
// and commas and boilerplate is dropped.
func DeriveTerms(extraction *scanning.Extraction) []string {
	if extraction == nil {
		return nil
	}

	terms := make([]string, 0, len(extraction.Lines))
	if len(extraction.Lines) > 0 {
		for _, line := range extraction.Lines {
			if t := strings.TrimSpace(line.Corrected); usableTerm(t) {
				terms = append(terms, t)
			}
		}
		return terms
	}

	fields := strings.FieldsFunc(extraction.Text, func(r rune) bool {
		return r == '\n' || r == ','
	})
	for _, f := range fields {
		t := strings.TrimSpace(f)
		if !usableTerm(t) || hasStopWord(t) {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}

func usableTerm(t string) bool {
	return utf8.RuneCountInString(t) >= minTermLength
}

func hasStopWord(t string) bool {
	l := lower.String(t)
	for _, w := range stopWords {
		if strings.Contains(l, w) {
			return true
		}
	}
	return false
}

// cleanTerms trims terms and drops the ones too short to look up
func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); usableTerm(t) {
			out = append(out, t)
		}
	}
	return out
}
