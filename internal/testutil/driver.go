package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/roach88/summarycheck/internal/oracle"
)

// Action mutates a subject in the fake system under test.
type Action func(subject oracle.Subject, args map[string]any) error

// FakeDriver dispatches scenario actions to registered handlers.
//
// Start runs the handler on a background goroutine after Delay, then calls
// done. Close stops pending background work and waits for it, so tests using
// goleak stay clean.
type FakeDriver struct {
	// Delay is how long a started operation runs before completing.
	Delay time.Duration

	mu      sync.Mutex
	actions map[string]Action
	invoked []string

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewFakeDriver creates a driver with no actions.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		actions: make(map[string]Action),
		stop:    make(chan struct{}),
	}
}

// Handle registers fn for action.
func (d *FakeDriver) Handle(action string, fn Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions[action] = fn
}

// Invoked returns the actions run so far, as "handle:action".
func (d *FakeDriver) Invoked() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.invoked...)
}

func (d *FakeDriver) run(subject oracle.Subject, action string, args map[string]any) error {
	d.mu.Lock()
	fn, ok := d.actions[action]
	d.invoked = append(d.invoked, subject.Handle+":"+action)
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}
	return fn(subject, args)
}

// Invoke runs action synchronously.
func (d *FakeDriver) Invoke(ctx context.Context, subject oracle.Subject, action string, args map[string]any) error {
	return d.run(subject, action, args)
}

// Start runs action in the background and reports completion through done.
func (d *FakeDriver) Start(ctx context.Context, subject oracle.Subject, action string, args map[string]any, done func(error)) error {
	d.mu.Lock()
	_, ok := d.actions[action]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if d.Delay > 0 {
			timer := time.NewTimer(d.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-d.stop:
				return
			}
		}
		done(d.run(subject, action, args))
	}()
	return nil
}

// Close abandons pending operations and waits for their goroutines.
func (d *FakeDriver) Close() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

// NewDriverServer serves d over the driver HTTP protocol.
// A request completes when the action has run.
func NewDriverServer(t testing.TB, d *FakeDriver) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Handle string         `json:"handle"`
			Action string         `json:"action"`
			Args   map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if d.Delay > 0 {
			time.Sleep(d.Delay)
		}
		if err := d.run(oracle.Subject{Handle: req.Handle}, req.Action, req.Args); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// RequirePass fails the test immediately if outcome did not pass.
// Accepts anything with an Err method, e.g. checkpoint.Outcome.
func RequirePass(t testing.TB, outcome interface{ Err() error }) {
	t.Helper()
	if err := outcome.Err(); err != nil {
		t.Fatalf("checkpoint did not pass:\n%v", err)
	}
}
