package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Remote implements the Extractor interface against an external OCR service
// that accepts a multipart upload on POST /api/ocr.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote extractor. A zero timeout defaults to 60s.
func NewRemote(baseURL string, timeout time.Duration) (*Remote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ocr service url is required")
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type remoteResponse struct {
	Text       string         `json:"text"`
	Lines      []Line         `json:"lines"`
	Confidence float64        `json:"confidence"`
	Stats      map[string]any `json:"stats"`
	ModelUsed  string         `json:"model_used"`
	Error      string         `json:"error"`
}

// Extract uploads the document and returns the service's reading
func (r *Remote) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	body, contentType, err := encodeUpload(doc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/ocr", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ocr service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ocr response: %w", err)
	}

	var out remoteResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && out.Error != "" {
			return nil, fmt.Errorf("ocr service error (status %d): %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("ocr service error (status %d): %s", resp.StatusCode, truncate(string(raw), 100))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding ocr response: %w", decodeErr)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ocr service: %s", out.Error)
	}

	extraction := finalize(&Extraction{
		Text:       out.Text,
		Lines:      out.Lines,
		Confidence: out.Confidence,
		Stats:      out.Stats,
		ModelUsed:  out.ModelUsed,
	})
	if extraction.ModelUsed == "" {
		extraction.ModelUsed = "remote"
	}
	return extraction, nil
}

// Close is a no-op for the HTTP client
func (r *Remote) Close() error {
	return nil
}

func encodeUpload(doc Document) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := doc.Filename
	if filename == "" {
		filename = "order"
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, "", fmt.Errorf("writing file part: %w", err)
	}
	if doc.Unit != "" {
		if err := w.WriteField("unit", doc.Unit); err != nil {
			return nil, "", fmt.Errorf("writing unit field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
