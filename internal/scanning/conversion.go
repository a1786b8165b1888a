package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// orderScanPrompt is shared by the LLM extractors
const orderScanPrompt = `You are reading a photographed medical exam order (pedido médico) written in Brazilian Portuguese.
List every requested laboratory or imaging exam, one entry per exam, in the order they appear.

For each exam return:
- "original": the text exactly as written on the order
- "corrected": the exam name with OCR mistakes fixed and common acronyms expanded only when unambiguous (e.g. "TGO" stays "TGO", "Glicemia jejum" becomes "Glicose")
- "confidence": a number between 0 and 1 for how sure you are about the reading
- "method": "none" if no change was made, "acronym_rule" if an acronym was normalized, "context_rule" if nearby text resolved the reading, "ai_correction" for any other fix

Ignore patient data, doctor name, CRM, dates, signatures and headers.

Return ONLY valid JSON in this exact format:
{
  "lines": [
    {"original": "...", "corrected": "...", "confidence": 0.0, "method": "none"}
  ]
}

Do not include any text before or after the JSON and do not use markdown code blocks.`

// renderPDF rasterizes the first page of a PDF order
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF photos
func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if isHEIC(data, mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format %q (use JPEG, PNG, GIF, HEIC or PDF): %w", mimeType, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEIC reports whether the upload is HEIC/HEIF, by MIME type or by the ftyp brand at offset 4
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// toPNG returns PNG bytes for any supported upload. PNG input is passed through untouched.
func toPNG(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if mimeType == "image/png" && !isHEIC(data, "") {
		return data, nil
	}

	var (
		img image.Image
		err error
	)
	if mimeType == "application/pdf" {
		img, err = renderPDF(data)
	} else {
		img, err = decodeImage(data, mimeType)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
