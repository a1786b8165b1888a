package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedResponse is returned when a catalog response does not have the expected shape
var ErrMalformedResponse = errors.New("malformed catalog response")

// StatusError is returned when the catalog answers with a non-2xx status
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Client talks to the exam catalog service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new catalog client. A zero timeout defaults to 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ValidateList submits every term in a single request and returns one item per term, in order
func (c *Client) ValidateList(ctx context.Context, unit string, terms []string) (*BatchResponse, error) {
	var resp BatchResponse
	if err := c.post(ctx, "/api/validate-list", batchRequest{Terms: terms, Unit: unit}, &resp); err != nil {
		return nil, err
	}
	if err := resp.validate(terms); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchExams runs a free-text lookup in the catalog for one unit
func (c *Client) SearchExams(ctx context.Context, unit string, term string) ([]Match, error) {
	var resp searchResponse
	if err := c.post(ctx, "/api/search-exams", searchRequest{Term: term, Unit: unit}, &resp); err != nil {
		return nil, err
	}
	for _, m := range resp.Exams {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	if resp.Exams == nil {
		return []Match{}, nil
	}
	return resp.Exams, nil
}

// Learn reports that originalTerm was resolved to the exam named acceptedName.
// The response body is ignored.
func (c *Client) Learn(ctx context.Context, originalTerm string, acceptedName string) error {
	return c.post(ctx, "/api/learn-correction", learnRequest{
		OriginalTerm:    originalTerm,
		CorrectExamName: acceptedName,
	}, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &StatusError{Endpoint: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}
