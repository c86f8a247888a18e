package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/domain"
)

var checkOpts flowOptions

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Build and test bindings against the candidate core revision",
	Long: `Build each binding at its branch revision with its core dependency pointed
at the candidate core checkout, then run the binding's setup and test
scripts under the pinned toolchain.

A failure is commented on the pull request with the tail of the output;
the full log is stored as a run artifact either way.

Examples:
  # Check every binding against the pull request head
  revcompare check --pr 42 --head 1a2b3c --label PR-approved

  # Check one binding with directives read from the event payload
  jq -r .pull_request.body "$GITHUB_EVENT_PATH" | \
    revcompare check --pr 42 --head 1a2b3c --label PR-approved --binding openjdk --body-file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFlow(cmd, domain.FlowCheck, &checkOpts)
	},
}

func init() {
	checkOpts.register(checkCmd)
	rootCmd.AddCommand(checkCmd)
}
