package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/summarycheck/internal/oracle"
)

// Driver mutates the system under test on behalf of a scenario.
type Driver interface {
	// Invoke performs action and returns once it has completed.
	Invoke(ctx context.Context, subject oracle.Subject, action string, args map[string]any) error

	// Start begins action and returns immediately. done is called exactly
	// once, from any goroutine, when the action completes or fails. A
	// non-nil return means the action never started and done is not called.
	Start(ctx context.Context, subject oracle.Subject, action string, args map[string]any, done func(error)) error
}

// DefaultDriverTimeout bounds a single driver request.
const DefaultDriverTimeout = 30 * time.Second

type invokeRequest struct {
	Handle string         `json:"handle"`
	Action string         `json:"action"`
	Args   map[string]any `json:"args,omitempty"`
}

// HTTPDriver sends actions to an out-of-process driver service.
//
// Protocol:
//
//	POST {base}/invoke  {"handle": "0x600000c10", "action": "set_method", "args": {"method": "POST"}}
//	2xx                 the action completed
//
// Any other status is an error carrying the response body. Start issues the
// same request on a background goroutine; Close waits for those to finish.
type HTTPDriver struct {
	baseURL string
	client  *http.Client
	wg      sync.WaitGroup
}

// NewHTTPDriver creates a driver for the service at baseURL. A non-positive
// timeout selects DefaultDriverTimeout.
func NewHTTPDriver(baseURL string, timeout time.Duration) *HTTPDriver {
	if timeout <= 0 {
		timeout = DefaultDriverTimeout
	}
	return &HTTPDriver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke implements Driver.
func (d *HTTPDriver) Invoke(ctx context.Context, subject oracle.Subject, action string, args map[string]any) error {
	body, err := json.Marshal(invokeRequest{Handle: subject.Handle, Action: action, Args: args})
	if err != nil {
		return fmt.Errorf("encode invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s on %s: %w", action, subject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("invoke %s on %s: status %d: %s", action, subject, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Start implements Driver.
func (d *HTTPDriver) Start(ctx context.Context, subject oracle.Subject, action string, args map[string]any, done func(error)) error {
	if done == nil {
		return fmt.Errorf("start %s: nil completion callback", action)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		done(d.Invoke(ctx, subject, action, args))
	}()
	return nil
}

// Close waits for started actions to finish. Cancel their context first to
// abandon them.
func (d *HTTPDriver) Close() {
	d.wg.Wait()
}
