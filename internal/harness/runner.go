package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/summarycheck/internal/gate"
	"github.com/roach88/summarycheck/internal/oracle"
)

// Deps are the collaborators a scenario runs against.
type Deps struct {
	Oracle oracle.Oracle
	Driver Driver

	// Logger defaults to discarding everything.
	Logger *slog.Logger

	// Timeout is the gate bound when neither the scenario nor the step sets one.
	Timeout time.Duration

	// CheckIdempotence enables the recorded-history consistency check.
	CheckIdempotence bool
}

// Run executes scenario step by step and returns its result.
//
// Checkpoint failures, driver failures, and gate misuse are reported in the
// Result, not as an error. A driver failure or gate misuse stops the
// scenario because later checkpoints would describe an unknown state. The
// returned error is reserved for a scenario that cannot be run at all.
//
// On return any pending gate has been released and ctx-derived work
// cancelled. Run does not wait for background actions to finish.
func Run(ctx context.Context, scenario *Scenario, deps Deps) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is nil")
	}
	if deps.Oracle == nil {
		return nil, fmt.Errorf("scenario %q: oracle is required", scenario.Name)
	}
	if deps.Driver == nil && scenarioMutates(scenario) {
		return nil, fmt.Errorf("scenario %q: driver is required for invoke and start steps", scenario.Name)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("scenario", scenario.Name)

	timeout := deps.Timeout
	if d := scenario.GateTimeout(); d > 0 {
		timeout = d
	}

	opts := []Option{WithTimeout(timeout), WithLogger(logger)}
	if deps.CheckIdempotence {
		opts = append(opts, WithIdempotenceCheck())
	}
	h := New(deps.Oracle, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer h.Close()

	r := &runner{scenario: scenario, deps: deps, h: h, logger: logger, awaited: map[int64]bool{}}

	logger.Info("scenario started", "steps", len(scenario.Steps))
	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			h.result.AddError(fmt.Sprintf("step %d: scenario cancelled: %v", i, err))
			break
		}
		if err := r.step(ctx, i, step); err != nil {
			h.result.AddError(fmt.Sprintf("step %d (%s): %v", i, step.Kind(), err))
			logger.Warn("scenario aborted", "step", i, "error", err)
			break
		}
	}

	r.reportUnawaitedFailures()
	result := h.Finish()
	logger.Info("scenario finished", "pass", result.Pass, "checkpoints", result.Checkpoints, "failed", len(result.Reports))
	return result, nil
}

type runner struct {
	scenario *Scenario
	deps     Deps
	h        *Harness
	logger   *slog.Logger

	started []startedAction
	awaited map[int64]bool
}

// startedAction is a background action and the gate it resolves.
type startedAction struct {
	gate    *gate.Gate
	subject oracle.Subject
	action  string
}

func (r *runner) step(ctx context.Context, i int, step Step) error {
	switch {
	case step.Verify != nil:
		r.verify(ctx, step.Verify)
		return nil
	case step.Invoke != nil:
		return r.invoke(ctx, step.Invoke)
	case step.Start != nil:
		return r.start(ctx, step.Start)
	}
	return fmt.Errorf("empty step")
}

func (r *runner) subject(name string) (oracle.Subject, error) {
	subj, ok := r.scenario.Subject(name)
	if !ok {
		return oracle.Subject{}, fmt.Errorf("unknown subject %q", name)
	}
	return subj, nil
}

func (r *runner) verify(ctx context.Context, v *VerifyStep) {
	subj, err := r.subject(v.Subject)
	if err != nil {
		r.h.result.AddError(err.Error())
		return
	}
	expected := ""
	if v.Expect != nil {
		expected = *v.Expect
	}
	tag := oracle.TypeTag(v.Type)

	if !v.Await {
		r.h.Verify(ctx, subj, tag, expected)
		return
	}

	var bound time.Duration
	if v.Timeout != "" {
		bound, _ = time.ParseDuration(v.Timeout)
	}
	g := r.h.Active()
	if g == nil {
		r.h.result.AddError(fmt.Sprintf("await on %s with no started action", subj))
		return
	}
	r.awaited[g.ID()] = true
	r.h.VerifyAfter(ctx, g, bound, subj, tag, expected)
}

func (r *runner) invoke(ctx context.Context, a *ActionStep) error {
	subj, err := r.subject(a.Subject)
	if err != nil {
		return err
	}

	r.h.result.AddEvent(TraceEvent{Type: EventInvoke, Subject: subj.String(), Action: a.Action})
	if err := r.deps.Driver.Invoke(ctx, subj, a.Action, a.Args); err != nil {
		return fmt.Errorf("invoke %s: %w", a.Action, err)
	}
	r.h.Mutated(subj)
	r.logger.Debug("action invoked", "subject", subj.String(), "action", a.Action)
	return nil
}

func (r *runner) start(ctx context.Context, a *ActionStep) error {
	subj, err := r.subject(a.Subject)
	if err != nil {
		return err
	}

	g, err := r.h.Start()
	if err != nil {
		return err
	}
	r.started = append(r.started, startedAction{gate: g, subject: subj, action: a.Action})
	r.h.result.AddEvent(TraceEvent{Type: EventStart, Subject: subj.String(), Action: a.Action, Gate: g.ID()})

	end := r.h.Mutating(subj)
	done := func(err error) {
		end()
		if err != nil {
			r.logger.Warn("background action failed", "subject", subj.String(), "action", a.Action, "error", err)
			g.Fail(err)
			return
		}
		g.Fulfill()
	}

	if err := r.deps.Driver.Start(ctx, subj, a.Action, a.Args, done); err != nil {
		end()
		g.Abandon()
		return fmt.Errorf("start %s: %w", a.Action, err)
	}
	r.logger.Debug("action started", "subject", subj.String(), "action", a.Action, "gate", g.ID())
	return nil
}

// reportUnawaitedFailures records background failures that no awaited
// checkpoint reported.
func (r *runner) reportUnawaitedFailures() {
	for _, sa := range r.started {
		if r.awaited[sa.gate.ID()] || sa.gate.State() != gate.Failed {
			continue
		}
		r.h.result.AddError(fmt.Sprintf("start %s on %s: %v", sa.action, sa.subject, sa.gate.Err()))
	}
}

func scenarioMutates(s *Scenario) bool {
	for _, step := range s.Steps {
		if step.Invoke != nil || step.Start != nil {
			return true
		}
	}
	return false
}
