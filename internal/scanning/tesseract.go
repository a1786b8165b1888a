package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Extractor interface with a local Tesseract install.
// It never corrects readings, so every line comes back with MethodNone.
type Tesseract struct {
	language string
}

// NewTesseract creates a Tesseract extractor for the given traineddata language (default "por")
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "por"
	}
	return &Tesseract{language: language}, nil
}

// Extract reads the text lines of an order image
func (t *Tesseract) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pngData, err := toPNG(doc.Data, doc.ContentType)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.language); err != nil {
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	if err := client.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	lines := make([]Line, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		lines = append(lines, Line{
			Original:   text,
			Corrected:  text,
			Confidence: box.Confidence / 100,
			Method:     MethodNone,
		})
	}

	extraction := finalize(&Extraction{
		Lines: lines,
		Stats: map[string]any{"total_ocr_lines": len(boxes)},
	})
	extraction.ModelUsed = "tesseract/" + t.language
	return extraction, nil
}

// Close is a no-op; a client is created per call
func (t *Tesseract) Close() error {
	return nil
}
