package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/summarycheck/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the summarycheck config file",
	}

	var (
		force  bool
		oracle string
		driver string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write the default settings to the file named by --config.

An existing file is left alone unless --force is given.

Examples:
  summarycheck config init
  summarycheck config init --config ci.yaml --oracle http://10.0.0.5:7070`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			path := rootOpts.ConfigPath
			if path == "" {
				path = config.DefaultPath
			}

			if _, err := os.Stat(path); err == nil && !force {
				_ = f.Error(ErrCodeWriteFailed, fmt.Sprintf("%s already exists (use --force to overwrite)", path), nil)
				return NewExitError(ExitCommandError, "config file exists")
			}

			cfg := config.DefaultConfig()
			if oracle != "" {
				cfg.Oracle.URL = oracle
			}
			if driver != "" {
				cfg.Driver.URL = driver
			}
			if err := cfg.Validate(); err != nil {
				_ = f.Error(ErrCodeConfig, err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			if err := cfg.Save(path); err != nil {
				_ = f.Error(ErrCodeWriteFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "failed to write config", err)
			}

			if f.JSON() {
				return f.Success(map[string]string{"path": path})
			}
			return f.Success("Wrote " + path)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&oracle, "oracle", "", "oracle base URL to write")
	initCmd.Flags().StringVar(&driver, "driver", "", "driver base URL to write")

	cmd.AddCommand(initCmd)
	return cmd
}
