package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/domain"
)

var benchOpts flowOptions

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark trunk against branch revisions on the exclusive host",
	Long: `Materialize trunk and branch revisions of the core and each binding, wire
each binding to its core, and run the comparison toolkit. The host lock is
held for the whole run so that only one comparison uses the machine.

The comparison report is posted to the pull request verbatim; the raw
benchmark logs are stored as artifacts.

Examples:
  # Compare the pull request head against master for every binding
  revcompare bench --pr 42 --head 1a2b3c --label PR-benchmarking

  # Compare a specific core commit, as a directive in the description would
  revcompare bench --pr 42 --head 1a2b3c --label PR-benchmarking \
    --body "BRANCH_CORE_REF=4d5e6f"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(cmd, domain.FlowBench, &benchOpts)
	},
}

func init() {
	benchOpts.register(benchCmd)
	rootCmd.AddCommand(benchCmd)
}
