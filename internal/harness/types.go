package harness

import (
	"sync"

	"github.com/roach88/summarycheck/internal/checkpoint"
	"github.com/roach88/summarycheck/internal/consistency"
)

// Trace event types.
const (
	EventCheckpoint = "checkpoint"
	EventInvoke     = "invoke"
	EventStart      = "start"
	EventGate       = "gate"
)

// TraceEvent records one step the harness observed, in order.
type TraceEvent struct {
	Type     string `json:"type"`
	Subject  string `json:"subject,omitempty"`
	Action   string `json:"action,omitempty"`
	TypeTag  string `json:"type_tag,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
	Class    string `json:"class,omitempty"`
	Gate     int64  `json:"gate,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Seq      int64  `json:"seq,omitempty"`
}

// Result is the outcome of a harness session or scenario run.
//
// Thread-safety: the background completion callback and the scenario
// goroutine both append to a Result, so all mutation goes through mu.
type Result struct {
	mu sync.Mutex

	// Pass is true until any checkpoint fails or an error is added.
	Pass bool `json:"pass"`

	// Trace contains every checkpoint, mutation, and gate event in order.
	Trace []TraceEvent `json:"trace"`

	// Checkpoints is the number of checkpoints resolved, set by Finish.
	Checkpoints int64 `json:"-"`

	// Errors contains one human-readable entry per failure.
	Errors []string `json:"errors,omitempty"`

	// Reports holds the mismatch report of every failed checkpoint.
	Reports []*checkpoint.MismatchReport `json:"-"`

	// History is the recorded oracle traffic when the idempotence check ran.
	History []consistency.Operation `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds an error message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the trace.
func (r *Result) AddEvent(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, ev)
}

// AddOutcome records a checkpoint outcome, failing the result if needed.
func (r *Result) AddOutcome(ev TraceEvent, out checkpoint.Outcome) {
	ev.Type = EventCheckpoint
	ev.Seq = out.Seq
	ev.Verdict = string(out.Verdict)
	ev.Actual = out.Actual
	if out.Report != nil {
		ev.Class = string(out.Report.Class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trace = append(r.Trace, ev)
	if out.Report != nil {
		r.Reports = append(r.Reports, out.Report)
		r.Errors = append(r.Errors, out.Report.Error())
		r.Pass = false
	}
}

func (r *Result) setCheckpoints(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Checkpoints = n
}

func (r *Result) setHistory(ops []consistency.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.History = ops
}

// Snapshot returns a copy safe to read while the harness keeps running.
func (r *Result) Snapshot() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Pass:        r.Pass,
		Trace:       append([]TraceEvent{}, r.Trace...),
		Checkpoints: r.Checkpoints,
		Errors:      append([]string{}, r.Errors...),
		Reports:     append([]*checkpoint.MismatchReport(nil), r.Reports...),
		History:     append([]consistency.Operation(nil), r.History...),
	}
}
