package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/summarycheck/internal/consistency"
	"github.com/roach88/summarycheck/internal/store"
)

// HistoryOptions holds flags for the history commands.
type HistoryOptions struct {
	*RootOptions
	DB    string
	Limit int
	Viz   string
}

// RunDetail is the JSON payload of history show.
type RunDetail struct {
	Run         store.Run          `json:"run"`
	Checkpoints []store.Checkpoint `json:"checkpoints"`
	Consistent  *bool              `json:"consistent,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [scenario]",
		Short: "List stored scenario runs",
		Long: `List runs stored by "summarycheck test --db", newest first, with the failed
checkpoints of each failing run.

Examples:
  summarycheck history --db runs.db
  summarycheck history url_request_method --db runs.db --limit 5
  summarycheck history show 0192f1c4-... --db runs.db --viz run.html
  summarycheck history rm 0192f1c4-... --db runs.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := ""
			if len(args) == 1 {
				scenario = args[0]
			}
			return runHistoryList(cmd, opts, scenario)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "run history database (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, opts, args[0])
		},
	}
	show.Flags().StringVar(&opts.Viz, "viz", "", "re-check recorded oracle traffic and write the visualization here")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <run-id>...",
		Short: "Delete stored runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryRemove(cmd, opts, args)
		},
	})

	return cmd
}

func openHistory(opts *HistoryOptions, f *OutputFormatter) (*store.Store, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, err
	}
	path := cfg.Run.DB
	if opts.DB != "" {
		path = opts.DB
	}
	if path == "" {
		_ = f.Error(ErrCodeHistory, "no run history database (use --db or run.db)", nil)
		return nil, NewExitError(ExitCommandError, "no run history database")
	}
	if _, err := os.Stat(path); err != nil {
		_ = f.Error(ErrCodeNotFound, fmt.Sprintf("run history database not found: %s", path), nil)
		return nil, WrapExitError(ExitCommandError, "run history database not found", err)
	}

	st, err := store.Open(path)
	if err != nil {
		_ = f.Error(ErrCodeHistory, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open run history", err)
	}
	return st, nil
}

func runHistoryList(cmd *cobra.Command, opts *HistoryOptions, scenario string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openHistory(opts, f)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), scenario, opts.Limit)
	if err != nil {
		_ = f.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if f.JSON() {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(f.Writer, "%s %s %s\n", f.Mark(run.Pass), run.Scenario,
			f.Dim(fmt.Sprintf("#%d %s  %d checkpoints, %d failed", run.Seq, run.ID, run.Checkpoints, run.Failures)))
		if run.Pass {
			continue
		}
		failed, err := st.FailedCheckpoints(cmd.Context(), run.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		for _, cp := range failed {
			fmt.Fprintf(f.Writer, "    checkpoint %d %s: %s %s\n", cp.Seq, cp.Class, cp.Subject, f.Dim(fmt.Sprintf("expected %q, got %q", cp.Expected, cp.Actual)))
		}
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, opts *HistoryOptions, runID string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openHistory(opts, f)
	if err != nil {
		return err
	}
	defer st.Close()

	run, checkpoints, err := st.ReadRun(cmd.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		_ = f.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		_ = f.Error(ErrCodeHistory, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	detail := RunDetail{Run: run, Checkpoints: checkpoints}

	if opts.Viz != "" {
		ops, err := st.ReadOperations(cmd.Context(), runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read recorded operations", err)
		}
		if len(ops) == 0 {
			return NewExitError(ExitCommandError, "run has no recorded oracle traffic (run with --check-idempotence)")
		}
		report := consistency.Check(ops, 0)
		if err := writeFile(opts.Viz, report.Visualize); err != nil {
			_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write visualization", err)
		}
		detail.Consistent = &report.Ok
		f.VerboseLog("wrote %s", opts.Viz)
	}

	if f.JSON() {
		return f.Success(detail)
	}

	fmt.Fprintf(f.Writer, "%s %s %s\n", f.Mark(run.Pass), f.style().bold.Render(run.Scenario), f.Dim(run.ID))
	for _, cp := range checkpoints {
		fmt.Fprintf(f.Writer, "  %s %d %s %s %q\n", f.Mark(cp.Verdict == "pass"), cp.Seq, cp.Subject, cp.TypeTag, cp.Expected)
		if cp.Detail != "" {
			fmt.Fprintln(f.Writer, indent(cp.Detail, "      "))
		}
	}
	for _, e := range run.Errors {
		if !isCheckpointError(e, checkpoints) {
			fmt.Fprintln(f.Writer, indent(e, "  "))
		}
	}
	if detail.Consistent != nil {
		fmt.Fprintf(f.Writer, "  idempotence: %s\n", f.Mark(*detail.Consistent))
	}
	return nil
}

func runHistoryRemove(cmd *cobra.Command, opts *HistoryOptions, runIDs []string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openHistory(opts, f)
	if err != nil {
		return err
	}
	defer st.Close()

	removed := []string{}
	for _, id := range runIDs {
		err := st.DeleteRun(cmd.Context(), id)
		if errors.Is(err, store.ErrRunNotFound) {
			_ = f.Error(ErrCodeNotFound, err.Error(), map[string]any{"removed": removed})
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		if err != nil {
			_ = f.Error(ErrCodeHistory, err.Error(), map[string]any{"removed": removed})
			return WrapExitError(ExitCommandError, "failed to delete run", err)
		}
		removed = append(removed, id)
	}

	if f.JSON() {
		return f.Success(map[string]any{"removed": removed})
	}
	fmt.Fprintf(f.Writer, "Removed %d run(s).\n", len(removed))
	return nil
}

// isCheckpointError reports whether e is the stored detail of a checkpoint,
// already printed with it.
func isCheckpointError(e string, checkpoints []store.Checkpoint) bool {
	for _, cp := range checkpoints {
		if cp.Detail != "" && cp.Detail == e {
			return true
		}
	}
	return false
}

func writeFile(path string, write func(w io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
