package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exitcode"
	"github.com/felixgeelhaar/revcompare/internal/gate"
)

var (
	gateFlags    runFlags
	gateJSON     bool
	gateExitCode bool
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Decide whether a pull request may run the pipelines",
	Long: `Evaluate the approval gate for a pull request without running anything.

The gate requires one of the configured labels, a trigger event from the
configured set and, when configured, the target branch. Missing label data
(no --label flag) never approves a run.

Examples:
  revcompare gate --pr 42 --head 1a2b3c --label PR-approved
  revcompare gate --pr 42 --head 1a2b3c --label docs --exit-code || echo skipped`,
	RunE: runGate,
}

func init() {
	gateFlags.register(gateCmd)
	gateCmd.Flags().BoolVar(&gateJSON, "json", false, "print the decision as JSON")
	gateCmd.Flags().BoolVar(&gateExitCode, "exit-code", false, "exit with status 3 when the gate is closed")
	rootCmd.AddCommand(gateCmd)
}

func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := gateFlags.runContext(cmd, cfg)
	if err != nil {
		return err
	}
	g, err := gate.New(cfg.Gate.Labels, cfg.Gate.Events, cfg.Gate.TargetBranch)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "gate", err)
	}

	d := g.Evaluate(rc)
	if err := printDecision(cmd.OutOrStdout(), rc, d, gateJSON); err != nil {
		return err
	}
	if !d.Run && gateExitCode {
		return &ExitError{Code: exitcode.GateClosed}
	}
	return nil
}

func printDecision(w io.Writer, rc domain.RunContext, d gate.Decision, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			PR     string `json:"pr"`
			Run    bool   `json:"run"`
			Reason string `json:"reason"`
		}{rc.Key(), d.Run, d.Reason})
	}
	if d.Run {
		_, err := fmt.Fprintf(w, "%s %s: %s\n", passStyle.Render("run"), rc.Key(), d.Reason)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s: %s\n", mutedStyle.Render("skip"), rc.Key(), d.Reason)
	return err
}
