package main

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/graphsync/internal/config"
	"github.com/agentworkforce/graphsync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const (
	exitFailure = 1
	exitConfig  = 2
)

var validOutputs = []string{"text", "json"}

type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Output     string
}

// exitError carries the process exit code for a command failure.
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	return e.Err
}

func configError(err error) error {
	return &exitError{Code: exitConfig, Err: err}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitFailure
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "graphsync",
		Short:         "Incremental sync of directory principals, sign-ins and audits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, valid := range validOutputs {
				if opts.Output == valid {
					return nil
				}
			}
			return configError(fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validOutputs))
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format override (json|console)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "summary output (text|json)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckpointsCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, configError(err)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, configError(fmt.Errorf("failed to build logger: %w", err))
	}
	return logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
