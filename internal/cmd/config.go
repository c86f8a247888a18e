package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
	Long: `The configuration is the built-in defaults, overlaid with revcompare.yaml
(or --config), overlaid with REVCOMPARE_* environment variables. A .env
file in the working directory is loaded first when present.

Examples:
  revcompare config validate
  revcompare config show --config /etc/revcompare/perf-host.yaml`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for missing or inconsistent fields",
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	names, _ := bindingNames(cfg, nil)
	fmt.Fprintf(cmd.OutOrStdout(), "%s configuration valid: %d binding(s) %v, build/test runner %s, store %s\n",
		passStyle.Render("ok"), len(names), names, cfg.BuildTest.Runner, cfg.Report.Store.Kind)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
