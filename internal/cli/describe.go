package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/summarycheck/internal/checkpoint"
	"github.com/roach88/summarycheck/internal/oracle"
)

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Oracle  string
	Timeout time.Duration
	Type    string
	Expect  string
}

// DescribeResult is the JSON payload of the describe command.
type DescribeResult struct {
	Handle   string `json:"handle"`
	Summary  string `json:"summary"`
	Type     string `json:"type,omitempty"`
	Expected string `json:"expected,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe <handle>",
		Short: "Ask the oracle for one object's summary",
		Long: `Ask the oracle for the current summary of one live object.

With --type and --expect the reply is checked like a scenario checkpoint and
a mismatch exits with status 1.

Examples:
  summarycheck describe 0x600000c10
  summarycheck describe 0x600000c10 --type NSURLRequest --expect "POST, https://google.com"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Oracle, "oracle", "", "oracle base URL (overrides config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "oracle request timeout (overrides config)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "expected runtime type")
	cmd.Flags().StringVar(&opts.Expect, "expect", "", "expected summary; enables checking")

	return cmd
}

func runDescribe(cmd *cobra.Command, opts *DescribeOptions, handle string) error {
	f := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Oracle != "" {
		cfg.Oracle.URL = opts.Oracle
	}
	timeout := cfg.GetOracleTimeout()
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	client := oracle.NewHTTPClient(cfg.Oracle.URL, oracle.WithRequestTimeout(timeout))
	subject := oracle.Subject{Handle: handle}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	checking := cmd.Flags().Changed("expect")
	if checking && opts.Type == "" {
		return NewExitError(ExitCommandError, "--expect requires --type")
	}
	if !checking {
		summary, err := client.Describe(ctx, subject)
		if err != nil {
			var details any
			if oracle.IsUnreachable(err) {
				details = map[string]string{
					"oracle": cfg.Oracle.URL,
					"hint":   "check that the formatter service is running (--oracle or oracle.url)",
				}
			}
			_ = f.Error(ErrCodeOracle, err.Error(), details)
			return WrapExitError(ExitFailure, "describe failed", err)
		}
		if f.JSON() {
			return f.Success(DescribeResult{Handle: handle, Summary: summary.Text, Type: string(summary.Type)})
		}
		f.VerboseLog("type: %s", summary.Type)
		return f.Success(summary.Text)
	}

	out := checkpoint.NewComparator(client).Verify(ctx, subject, oracle.TypeTag(opts.Type), opts.Expect)
	result := DescribeResult{
		Handle:   handle,
		Summary:  out.Actual,
		Type:     opts.Type,
		Expected: opts.Expect,
		Verdict:  string(out.Verdict),
	}

	if out.Passed() {
		if f.JSON() {
			return f.Success(result)
		}
		return f.Success(f.Mark(true) + " " + out.Actual)
	}

	if f.JSON() {
		_ = f.Error(ErrCodeScenarioFailed, out.Report.Error(), result)
	} else {
		printReport(f, out.Report)
	}
	return NewExitError(ExitFailure, "checkpoint failed")
}
