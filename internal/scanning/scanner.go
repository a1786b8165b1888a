package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrLineOutOfRange is returned when editing a line that does not exist
var ErrLineOutOfRange = errors.New("line index out of range")

// CorrectionMethod records how the corrected reading of a line was produced
type CorrectionMethod string

const (
	MethodNone         CorrectionMethod = "none"
	MethodAcronymRule  CorrectionMethod = "acronym_rule"
	MethodContextRule  CorrectionMethod = "context_rule"
	MethodAICorrection CorrectionMethod = "ai_correction"
)

// ParseCorrectionMethod maps a wire value onto a known method. Unknown values become MethodNone.
func ParseCorrectionMethod(s string) CorrectionMethod {
	switch m := CorrectionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodAcronymRule, MethodContextRule, MethodAICorrection:
		return m
	default:
		return MethodNone
	}
}

// UnmarshalJSON accepts any string and normalizes it with ParseCorrectionMethod
func (m *CorrectionMethod) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*m = MethodNone
		return nil
	}
	*m = ParseCorrectionMethod(s)
	return nil
}

// Line is a single recognized line of an exam order
type Line struct {
	Original   string           `json:"original"`
	Corrected  string           `json:"corrected"`
	Confidence float64          `json:"confidence"`
	Method     CorrectionMethod `json:"method"`
}

// Extraction is the normalized result of reading an order image
type Extraction struct {
	Text       string         `json:"text"`
	Lines      []Line         `json:"lines"`
	Confidence float64        `json:"confidence"`
	Stats      map[string]any `json:"stats,omitempty"`
	ModelUsed  string         `json:"model_used"`
}

// EditLine replaces the corrected reading of one line. The original reading never changes.
func (e *Extraction) EditLine(index int, corrected string) error {
	if index < 0 || index >= len(e.Lines) {
		return ErrLineOutOfRange
	}
	e.Lines[index].Corrected = strings.TrimSpace(corrected)
	return nil
}

// Clone returns a deep copy safe to hand out while the original keeps being edited
func (e *Extraction) Clone() *Extraction {
	if e == nil {
		return nil
	}
	c := *e
	c.Lines = append([]Line(nil), e.Lines...)
	if e.Stats != nil {
		c.Stats = make(map[string]any, len(e.Stats))
		for k, v := range e.Stats {
			c.Stats[k] = v
		}
	}
	return &c
}

// Document is an uploaded order image handed to an Extractor
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
	// Unit is the clinic location the order is quoted for
	Unit string
}

// Extractor defines the interface for reading exam lines out of an order image
type Extractor interface {
	// Extract reads the document and returns its recognized lines
	Extract(ctx context.Context, doc Document) (*Extraction, error)
	// Close releases any resources held by the extractor
	Close() error
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// finalize cleans up lines in place and fills derived fields
func finalize(e *Extraction) *Extraction {
	lines := e.Lines[:0]
	var sum float64
	for _, l := range e.Lines {
		l.Original = strings.TrimSpace(l.Original)
		l.Corrected = strings.TrimSpace(l.Corrected)
		if l.Corrected == "" {
			l.Corrected = l.Original
		}
		if l.Corrected == "" {
			continue
		}
		if l.Method == "" {
			l.Method = MethodNone
		}
		l.Confidence = clampConfidence(l.Confidence)
		sum += l.Confidence
		lines = append(lines, l)
	}
	e.Lines = lines

	if e.Confidence == 0 && len(lines) > 0 {
		e.Confidence = sum / float64(len(lines))
	}
	e.Confidence = clampConfidence(e.Confidence)

	if strings.TrimSpace(e.Text) == "" {
		readings := make([]string, 0, len(lines))
		for _, l := range lines {
			readings = append(readings, l.Original)
		}
		e.Text = strings.Join(readings, "\n")
	}
	return e
}
