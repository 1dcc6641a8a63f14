package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Scenarios []string          `json:"scenarios"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one scenario file that failed to load.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "validate <scenarios>",
		Short: "Validate scenario files without running them",
		Long: `Load every scenario file and check it without contacting the oracle or driver.

YAML files are decoded strictly (unknown fields are errors) and CUE files are
unified with the built-in scenario schema. Every step must reference a
declared subject, awaited checkpoints must follow a start step, and all
durations must parse.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, rootOpts, args[0], filter)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "filter scenarios by glob pattern")
	return cmd
}

func runValidate(cmd *cobra.Command, opts *RootOptions, path, filter string) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loaded, loadErrs := LoadScenarios(path, filter, LoadModeCollectAll)
	if loaded == nil {
		_ = f.Error(loadErrorCode(loadErrs[0]), loadErrs[0].Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenarios", loadErrs[0])
	}

	result := ValidationResult{Valid: len(loadErrs) == 0, Scenarios: []string{}}
	for _, ls := range loaded {
		f.VerboseLog("valid: %s (%s, %d steps)", ls.Scenario.Name, ls.Path, len(ls.Scenario.Steps))
		result.Scenarios = append(result.Scenarios, ls.Scenario.Name)
	}
	for _, err := range loadErrs {
		ve := ValidationError{Code: loadErrorCode(err), Message: err.Error(), Path: pathOf(err)}
		var le *LoadError
		if errors.As(err, &le) {
			ve.Message = le.Message
		}
		result.Errors = append(result.Errors, ve)
	}

	if f.JSON() {
		if result.Valid {
			if err := f.Success(result); err != nil {
				return err
			}
		} else if err := f.Error(ErrCodeLoadFailed, fmt.Sprintf("%d scenario file(s) invalid", len(result.Errors)), result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			fmt.Fprintf(f.Writer, "%s %s\n  %s\n", f.Mark(false), e.Path, e.Message)
		}
		if result.Valid {
			fmt.Fprintf(f.Writer, "%s %d scenario(s) valid\n", f.Mark(true), len(result.Scenarios))
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
