package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/summarycheck/internal/checkpoint"
	"github.com/roach88/summarycheck/internal/config"
	"github.com/roach88/summarycheck/internal/consistency"
	"github.com/roach88/summarycheck/internal/harness"
	"github.com/roach88/summarycheck/internal/oracle"
	"github.com/roach88/summarycheck/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Oracle           string
	Driver           string
	Timeout          time.Duration
	Parallel         int
	DB               string
	Filter           string
	CheckIdempotence bool
	VizDir           string
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	RunID       string   `json:"run_id,omitempty"`
	Pass        bool     `json:"pass"`
	Checkpoints int      `json:"checkpoints"`
	Errors      []string `json:"errors,omitempty"`

	reports []*checkpoint.MismatchReport
	trace   []harness.TraceEvent
	history []consistency.Operation
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run summary verification scenarios",
		Long: `Run scenario files against a live oracle and driver.

<scenarios> is a scenario file or a directory searched recursively for
.yaml, .yml, and .cue files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, bad config, etc.)

Examples:
  summarycheck test ./scenarios
  summarycheck test ./scenarios --filter "url_*" --parallel 4
  summarycheck test ./scenarios --db runs.db --check-idempotence --viz-dir ./viz
  summarycheck test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Oracle, "oracle", "", "oracle base URL (overrides config)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "driver base URL (overrides config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "default bound for awaited checkpoints (overrides config)")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "scenarios to run at once (overrides config)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "store run history in this SQLite database")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().BoolVar(&opts.CheckIdempotence, "check-idempotence", false, "check that summaries only change across mutations")
	cmd.Flags().StringVar(&opts.VizDir, "viz-dir", "", "write idempotence visualizations here")

	return cmd
}

// applyFlags overlays command-line values on the loaded config.
func (o *TestOptions) applyFlags(cfg *config.Config) {
	if o.Oracle != "" {
		cfg.Oracle.URL = o.Oracle
	}
	if o.Driver != "" {
		cfg.Driver.URL = o.Driver
	}
	if o.Timeout > 0 {
		cfg.Gate.Timeout = o.Timeout.String()
	}
	if o.Parallel > 0 {
		cfg.Run.Parallel = o.Parallel
	}
	if o.DB != "" {
		cfg.Run.DB = o.DB
	}
	if o.CheckIdempotence || o.VizDir != "" {
		cfg.Run.CheckIdempotence = true
	}
}

func runTests(cmd *cobra.Command, opts *TestOptions, path string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	opts.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	loaded, loadErrs := LoadScenarios(path, opts.Filter, LoadModeCollectAll)
	if loaded == nil && len(loadErrs) > 0 {
		_ = f.Error(loadErrorCode(loadErrs[0]), loadErrs[0].Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenarios", loadErrs[0])
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, err := range loadErrs {
		name := err.Error()
		if p := pathOf(err); p != "" {
			name = filepath.Base(p)
		}
		result.Scenarios = append(result.Scenarios, ScenarioResult{
			Name:   name,
			Path:   pathOf(err),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		})
	}

	if len(loaded) == 0 && len(loadErrs) == 0 {
		if f.JSON() {
			return f.Success(result)
		}
		fmt.Fprintln(f.Writer, "No scenarios found.")
		return nil
	}

	var st *store.Store
	if cfg.Run.DB != "" {
		st, err = store.Open(cfg.Run.DB)
		if err != nil {
			_ = f.Error(ErrCodeHistory, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open run history", err)
		}
		defer st.Close()
	}

	if opts.VizDir != "" {
		if err := os.MkdirAll(opts.VizDir, 0755); err != nil {
			_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to create visualization directory", err)
		}
	}

	driver := harness.NewHTTPDriver(cfg.Driver.URL, cfg.GetDriverTimeout())
	deps := harness.Deps{
		Oracle:           oracle.NewHTTPClient(cfg.Oracle.URL, oracle.WithRequestTimeout(cfg.GetOracleTimeout())),
		Driver:           driver,
		Logger:           logger,
		Timeout:          cfg.GetGateTimeout(),
		CheckIdempotence: cfg.Run.CheckIdempotence,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runs := make([]ScenarioResult, len(loaded))
	var storeMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Run.Parallel)
	for i, ls := range loaded {
		g.Go(func() error {
			runs[i] = runScenario(gctx, ls, deps)
			if st != nil {
				storeMu.Lock()
				err := saveRun(gctx, st, runs[i])
				storeMu.Unlock()
				if err != nil {
					logger.Warn("failed to store run", "scenario", ls.Scenario.Name, "run", runs[i].RunID, "error", err)
					runs[i].Errors = append(runs[i].Errors, fmt.Sprintf("failed to store run: %v", err))
				}
			}
			if opts.VizDir != "" {
				if err := writeViz(opts.VizDir, runs[i]); err != nil {
					logger.Warn("failed to write visualization", "scenario", ls.Scenario.Name, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	driver.Close()

	result.Scenarios = append(result.Scenarios, runs...)
	result.Total = len(result.Scenarios)
	for _, s := range result.Scenarios {
		if s.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printTestText(f, result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// runScenario executes one scenario and keeps what the reports need.
func runScenario(ctx context.Context, ls LoadedScenario, deps harness.Deps) ScenarioResult {
	sr := ScenarioResult{
		Name:  ls.Scenario.Name,
		Path:  ls.Path,
		RunID: newRunID(),
	}

	res, err := harness.Run(ctx, ls.Scenario, deps)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}

	sr.Pass = res.Pass
	sr.Errors = res.Errors
	sr.reports = res.Reports
	sr.history = res.History
	sr.trace = res.Trace
	sr.Checkpoints = int(res.Checkpoints)
	return sr
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// saveRun writes a scenario result to the run history.
func saveRun(ctx context.Context, st *store.Store, sr ScenarioResult) error {
	run := store.Run{
		ID:          sr.RunID,
		Scenario:    sr.Name,
		Pass:        sr.Pass,
		Checkpoints: sr.Checkpoints,
		Failures:    len(sr.reports),
		Errors:      sr.Errors,
	}

	details := make(map[int64]string, len(sr.reports))
	for _, r := range sr.reports {
		details[r.Seq] = r.Error()
	}

	var cps []store.Checkpoint
	for _, ev := range sr.trace {
		if ev.Type != harness.EventCheckpoint {
			continue
		}
		cps = append(cps, store.Checkpoint{
			Seq:      ev.Seq,
			Subject:  ev.Subject,
			TypeTag:  ev.TypeTag,
			Expected: ev.Expected,
			Actual:   ev.Actual,
			Verdict:  ev.Verdict,
			Class:    ev.Class,
			Detail:   details[ev.Seq],
		})
	}

	_, err := st.WriteRun(ctx, run, cps, sr.history)
	return err
}

// writeViz writes the porcupine visualization of a run's oracle traffic.
func writeViz(dir string, sr ScenarioResult) error {
	if len(sr.history) == 0 {
		return nil
	}
	path := filepath.Join(dir, sanitizeFileName(sr.Name)+".html")
	return writeFile(path, consistency.Check(sr.history, 0).Visualize)
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}

// printTestText prints per-scenario marks and failure reports.
func printTestText(f *OutputFormatter, result TestResult) {
	w := f.Writer
	for _, s := range result.Scenarios {
		fmt.Fprintf(w, "%s %s\n", f.Mark(s.Pass), s.Name)
		if s.RunID != "" {
			f.VerboseLog("  run %s (%s)", s.RunID, s.Path)
		}
		if s.Pass {
			continue
		}
		for _, e := range s.Errors {
			fmt.Fprintln(w, indent(strings.TrimRight(e, "\n"), "  "))
		}
		if f.Verbose {
			for _, r := range s.reports {
				if diff := r.Diff(); diff != "" {
					fmt.Fprintf(w, "  Diff for checkpoint %d (-expected +actual):\n%s", r.Seq, indent(diff, "    "))
				}
			}
		}
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		fmt.Fprintln(w, f.style().fail.Render(summary))
		return
	}
	fmt.Fprintln(w, f.style().pass.Render(summary))
}

// printReport prints a single mismatch report in text mode.
func printReport(f *OutputFormatter, r *checkpoint.MismatchReport) {
	fmt.Fprintf(f.Writer, "%s %s", f.Mark(false), r.Error())
	if diff := r.Diff(); diff != "" && f.Verbose {
		fmt.Fprintf(f.Writer, "  Diff (-expected +actual):\n%s", indent(diff, "    "))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}

func pathOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Path
	}
	return ""
}
