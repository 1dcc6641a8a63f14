package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single describe request.
const DefaultHTTPTimeout = 5 * time.Second

// maxSummaryBytes caps the response body read from the oracle.
const maxSummaryBytes = 1 << 20

// describeRequest is the body of POST {base}/describe.
type describeRequest struct {
	Handle string `json:"handle"`
}

// describeResponse is the body returned by the oracle.
// Error is set (with a 404 status) when no formatter rule matched.
type describeResponse struct {
	Summary *string `json:"summary,omitempty"`
	Type    string  `json:"type,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// errNoFormatter is the error value the oracle sends with a 404.
const errNoFormatter = "no_formatter"

// HTTPClient talks to an out-of-process formatter service.
//
// Protocol:
//
//	POST {base}/describe  {"handle": "0x600000c10"}
//	200 {"summary": "POST, https://google.com", "type": "NSURLRequest"}
//	404 {"error": "no_formatter", "type": "NSFoo"}
//
// Any transport failure, other status, or malformed body is UNREACHABLE.
// The client keeps no state between calls and is safe for concurrent use.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPClient) {
		h.client = &http.Client{Timeout: d, Transport: h.client.Transport}
	}
}

// NewHTTPClient creates a client for the oracle service at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Describe asks the oracle for the subject's current summary.
func (h *HTTPClient) Describe(ctx context.Context, subject Subject) (Summary, error) {
	body, err := json.Marshal(describeRequest{Handle: subject.Handle})
	if err != nil {
		return Summary{}, fmt.Errorf("encode describe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/describe", bytes.NewReader(body))
	if err != nil {
		return Summary{}, NewUnreachableError(subject, "invalid oracle URL", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Summary{}, NewUnreachableError(subject, "oracle request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSummaryBytes))
	if err != nil {
		return Summary{}, NewUnreachableError(subject, "read oracle response", err)
	}

	var out describeResponse
	decodeErr := json.Unmarshal(data, &out)

	switch {
	case resp.StatusCode == http.StatusNotFound && decodeErr == nil && out.Error == errNoFormatter:
		return Summary{}, NewNoFormatterError(subject, TypeTag(out.Type))
	case resp.StatusCode != http.StatusOK:
		return Summary{}, NewUnreachableError(subject, fmt.Sprintf("oracle returned status %d", resp.StatusCode), nil)
	case decodeErr != nil:
		return Summary{}, NewUnreachableError(subject, "malformed oracle response", decodeErr)
	case out.Summary == nil:
		return Summary{}, NewUnreachableError(subject, "oracle response has no summary", nil)
	}

	return Summary{Text: *out.Summary, Type: TypeTag(out.Type)}, nil
}
