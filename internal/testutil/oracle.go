package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/roach88/summarycheck/internal/oracle"
)

// FakeOracle is an in-memory oracle whose summaries are set by the test.
//
// It stands in for the external formatter: scenario code mutates a subject
// and then calls Set with what the real formatter would render.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeOracle struct {
	mu          sync.Mutex
	summaries   map[string]oracle.Summary
	unreachable bool
	calls       map[string]int
}

// NewFakeOracle creates an oracle with no registered subjects.
// Describing an unregistered handle yields NO_FORMATTER.
func NewFakeOracle() *FakeOracle {
	return &FakeOracle{
		summaries: make(map[string]oracle.Summary),
		calls:     make(map[string]int),
	}
}

// Set registers the summary the oracle returns for handle.
func (f *FakeOracle) Set(handle string, typ oracle.TypeTag, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[handle] = oracle.Summary{Text: text, Type: typ}
}

// Forget removes handle so it describes as NO_FORMATTER.
func (f *FakeOracle) Forget(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.summaries, handle)
}

// SetUnreachable makes every describe fail with UNREACHABLE.
func (f *FakeOracle) SetUnreachable(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = down
}

// Calls returns how many times handle was described.
func (f *FakeOracle) Calls(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[handle]
}

// Describe implements oracle.Oracle.
func (f *FakeOracle) Describe(ctx context.Context, subject oracle.Subject) (oracle.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[subject.Handle]++
	if f.unreachable {
		return oracle.Summary{}, oracle.NewUnreachableError(subject, "fake oracle is down", nil)
	}
	summary, ok := f.summaries[subject.Handle]
	if !ok {
		return oracle.Summary{}, oracle.NewNoFormatterError(subject, "")
	}
	return summary, nil
}

// NewOracleServer serves f over the oracle HTTP protocol.
// The server is closed when the test ends.
func NewOracleServer(t testing.TB, f *FakeOracle) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /describe", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Handle string `json:"handle"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		summary, err := f.Describe(r.Context(), oracle.Subject{Handle: req.Handle})
		w.Header().Set("Content-Type", "application/json")
		switch {
		case oracle.IsNoFormatter(err):
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no_formatter"})
		case err != nil:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{
				"summary": summary.Text,
				"type":    string(summary.Type),
			})
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
