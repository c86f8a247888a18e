package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/version"
)

var versionOpts struct {
	verbose bool
	json    bool
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.GetInfo()
		out := cmd.OutOrStdout()

		switch {
		case versionOpts.json:
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal version info: %w", err)
			}
			fmt.Fprintln(out, string(data))
		case versionOpts.verbose:
			t := table.New().
				Border(lipgloss.HiddenBorder()).
				StyleFunc(func(_, col int) lipgloss.Style {
					if col == 0 {
						return mutedStyle
					}
					return lipgloss.NewStyle()
				}).
				Row("version", info.Version).
				Row("commit", info.Commit).
				Row("built", info.Date).
				Row("go", info.GoVersion).
				Row("platform", info.Platform)
			fmt.Fprintln(out, titleStyle.Render("revcompare"))
			fmt.Fprintln(out, t.Render())
		default:
			fmt.Fprintf(out, "revcompare %s\n", info.Short())
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionOpts.verbose, "verbose", "v", false, "show commit, build date and toolchain")
	versionCmd.Flags().BoolVar(&versionOpts.json, "json", false, "print build information as JSON")
	rootCmd.AddCommand(versionCmd)
}
