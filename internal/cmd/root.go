// Package cmd implements the revcompare command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "revcompare",
	Short: "Test and benchmark mmtk-core revisions against their VM bindings",
	Long: `revcompare runs the pull-request pipelines for the mmtk core library.

The check flow builds a VM binding against the candidate core revision and
runs the binding's test scripts. The bench flow materializes trunk and
branch revisions of both the core and the binding, runs the comparison
toolkit on the exclusive benchmark host and posts the report to the pull
request.

Revisions default to the baseline branch and the pull request head, and can
be overridden with KEY=value directives in the pull request description.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a process exit code. A nil Err exits without a message.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode implements exitcode.Coder
func (e *ExitError) ExitCode() int { return e.Code }

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which is cancelled on SIGINT
// and SIGTERM by main so that running pipelines clean up before exit.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "revcompare.yaml", "config file layered over the built-in defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
}
