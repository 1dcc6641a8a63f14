package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/summarycheck/internal/checkpoint"
	"github.com/roach88/summarycheck/internal/consistency"
	"github.com/roach88/summarycheck/internal/gate"
	"github.com/roach88/summarycheck/internal/oracle"
)

// DefaultTimeout is the gate bound used when none is given.
const DefaultTimeout = 10 * time.Second

// CheckTimeout bounds the idempotence check run by Finish.
const CheckTimeout = time.Minute

// Harness composes a checkpoint comparator and a gate keeper for one
// scenario. Scenario code calls it directly; nothing is inherited.
//
// A Harness is driven by a single scenario goroutine. The only call expected
// from another goroutine is Fulfill on a gate returned by Start.
type Harness struct {
	comparator *checkpoint.Comparator
	gates      *gate.Keeper
	recorder   *consistency.Recorder
	idempotent bool
	timeout    time.Duration
	logger     *slog.Logger
	result     *Result
}

// Option configures a Harness.
type Option func(*Harness)

// WithTimeout sets the default gate bound.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithIdempotenceCheck records oracle traffic so Finish can verify that
// summaries only change when the scenario reported a mutation.
func WithIdempotenceCheck() Option {
	return func(h *Harness) {
		h.idempotent = true
	}
}

// New creates a harness that queries o.
func New(o oracle.Oracle, opts ...Option) *Harness {
	h := &Harness{
		gates:   gate.NewKeeper(),
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:  NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.idempotent {
		h.recorder = consistency.NewRecorder(o)
		o = h.recorder
	}
	h.comparator = checkpoint.NewComparator(o)
	return h
}

// Verify runs a checkpoint against the subject's current state.
func (h *Harness) Verify(ctx context.Context, subject oracle.Subject, tag oracle.TypeTag, expected string) checkpoint.Outcome {
	out := h.comparator.Verify(ctx, subject, tag, expected)
	h.record(subject, tag, expected, out)
	return out
}

// Start opens the gate for an asynchronous operation. The background
// operation calls Fulfill on the returned gate when it completes.
// Fails with gate.ErrMisuse while a previous gate is still pending.
func (h *Harness) Start() (*gate.Gate, error) {
	g, err := h.gates.Create()
	if err != nil {
		return nil, err
	}
	h.logger.Debug("gate opened", "gate", g.ID())
	h.result.AddEvent(TraceEvent{Type: EventGate, Gate: g.ID(), Outcome: gate.Pending.String()})
	return g, nil
}

// VerifyAfter waits for g, then runs the checkpoint. The oracle is only
// queried when g was fulfilled. Otherwise the outcome says why it was not:
// the bound (the harness default when bound <= 0) elapsed, the operation
// failed, or ctx was cancelled while waiting.
func (h *Harness) VerifyAfter(ctx context.Context, g *gate.Gate, bound time.Duration, subject oracle.Subject, tag oracle.TypeTag, expected string) checkpoint.Outcome {
	if bound <= 0 {
		bound = h.timeout
	}

	state, err := g.Wait(ctx, bound)
	h.result.AddEvent(TraceEvent{Type: EventGate, Gate: g.ID(), Outcome: state.String()})

	var out checkpoint.Outcome
	switch {
	case err != nil:
		h.logger.Debug("gate wait cancelled", "gate", g.ID(), "error", err)
		out = h.comparator.Cancelled(subject, tag, expected, err)
	case state == gate.Fulfilled:
		return h.Verify(ctx, subject, tag, expected)
	case state == gate.Failed:
		out = h.comparator.ActionFailed(subject, tag, expected, g.Err())
	default:
		out = h.comparator.Expired(subject, tag, expected, bound)
	}
	h.record(subject, tag, expected, out)
	return out
}

// Active returns the gate opened by the most recent Start, or nil.
func (h *Harness) Active() *gate.Gate {
	return h.gates.Active()
}

// Mutated tells the idempotence check that subject changed.
func (h *Harness) Mutated(subject oracle.Subject) {
	if h.recorder != nil {
		h.recorder.Mutated(subject)
	}
}

// Mutating marks the start of a background mutation of subject and returns
// the function that marks its end.
func (h *Harness) Mutating(subject oracle.Subject) func() {
	if h.recorder == nil {
		return func() {}
	}
	return h.recorder.Mutating(subject, consistency.ClientBackground)
}

// Result returns a snapshot of the result so far.
func (h *Harness) Result() *Result {
	return h.result.Snapshot()
}

// Finish runs the idempotence check, if enabled, and returns the final result.
func (h *Harness) Finish() *Result {
	h.result.setCheckpoints(h.comparator.Count())
	if h.recorder != nil {
		history := h.recorder.History()
		h.result.setHistory(history)
		if msg := idempotenceError(consistency.Check(history, CheckTimeout)); msg != "" {
			h.result.AddError(msg)
		}
	}
	return h.Result()
}

func idempotenceError(report consistency.Report) string {
	switch {
	case report.Ok:
		return ""
	case report.Inconclusive():
		return fmt.Sprintf("idempotence check did not finish within %s (%d operations)", CheckTimeout, report.Operations)
	}
	return fmt.Sprintf("oracle summaries changed without a reported mutation (%d operations)", report.Operations)
}

// History returns the recorded oracle traffic, or nil when the idempotence
// check is off.
func (h *Harness) History() []consistency.Operation {
	if h.recorder == nil {
		return nil
	}
	return h.recorder.History()
}

// Close releases a pending gate without waiting for its operation.
func (h *Harness) Close() {
	h.gates.Release()
}

func (h *Harness) record(subject oracle.Subject, tag oracle.TypeTag, expected string, out checkpoint.Outcome) {
	h.result.AddOutcome(TraceEvent{
		Subject:  subject.String(),
		TypeTag:  string(tag),
		Expected: expected,
	}, out)

	attrs := []any{
		"seq", out.Seq,
		"subject", subject.String(),
		"type", tag,
		"verdict", out.Verdict,
	}
	if out.Report != nil {
		h.logger.Info("checkpoint failed", append(attrs, "class", out.Report.Class)...)
		return
	}
	h.logger.Debug("checkpoint passed", attrs...)
}
