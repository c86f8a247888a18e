package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/revision"
)

var (
	resolveFlags  runFlags
	resolveOutput string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the revisions a run would use",
	Long: `Parse override directives from the pull request description and print the
resolved revision set for each binding. Nothing is cloned or built.

Recognized directives, one per line:
  TRUNK_CORE_REF=<ref>            trunk core revision (default: baseline branch)
  BRANCH_CORE_REF=<ref>           branch core revision (default: pull request head)
  <PREFIX>_BINDING_TRUNK_REF=<ref> trunk binding revision (default: baseline branch)
  <PREFIX>_BINDING_REF=<ref>       branch binding revision (default: baseline branch)
  <PREFIX>_BINDING_REPO=<url>      fork to fetch the branch binding from

Examples:
  revcompare resolve --pr 42 --head 1a2b3c --body-file body.md
  revcompare resolve --pr 42 --head 1a2b3c --binding jikesrvm --output env >> "$GITHUB_ENV"`,
	RunE: runResolve,
}

func init() {
	resolveFlags.register(resolveCmd)
	resolveCmd.Flags().StringVarP(&resolveOutput, "output", "o", "text", "output format (text, json, env)")
	rootCmd.AddCommand(resolveCmd)
}

type resolvedBinding struct {
	Binding   string             `json:"binding"`
	Revisions domain.RevisionSet `json:"revisions"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := resolveFlags.runContext(cmd, cfg)
	if err != nil {
		return err
	}
	names, err := bindingNames(cfg, resolveFlags.bindings)
	if err != nil {
		return err
	}

	resolved, err := resolveRevisions(cfg, rc, names)
	if err != nil {
		return err
	}
	return printRevisions(cmd.OutOrStdout(), cfg, resolved, resolveOutput)
}

// resolveRevisions parses the body once with every binding's prefix, so a
// directive aimed at one binding is not an unknown key for the other.
func resolveRevisions(cfg *config.Config, rc domain.RunContext, names []string) ([]resolvedBinding, error) {
	prefixes := make([]string, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		prefixes = append(prefixes, b.DirectivePrefix)
	}
	directives, err := revision.NewGrammar(prefixes...).Parse(rc.Body())
	if err != nil {
		return nil, err
	}

	resolver := revision.NewResolver(cfg.Core.BaselineBranch)
	out := make([]resolvedBinding, 0, len(names))
	for _, name := range names {
		b, err := cfg.Binding(name)
		if err != nil {
			return nil, err
		}
		set, err := resolver.Resolve(rc, b.DirectivePrefix, directives)
		if err != nil {
			return nil, err
		}
		out = append(out, resolvedBinding{Binding: name, Revisions: set})
	}
	return out, nil
}

func printRevisions(w io.Writer, cfg *config.Config, resolved []resolvedBinding, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resolved)

	case "env":
		var b strings.Builder
		for i, r := range resolved {
			if i == 0 {
				fmt.Fprintf(&b, "%s=%s\n", revision.KeyTrunkCoreRef, r.Revisions.TrunkCoreRef)
				fmt.Fprintf(&b, "%s=%s\n", revision.KeyBranchCoreRef, r.Revisions.BranchCoreRef)
			}
			bc, _ := cfg.Binding(r.Binding)
			fmt.Fprintf(&b, "%s=%s\n", revision.TrunkBindingRefKey(bc.DirectivePrefix), r.Revisions.TrunkBindingRef)
			fmt.Fprintf(&b, "%s=%s\n", revision.BindingRefKey(bc.DirectivePrefix), r.Revisions.BranchBindingRef)
			if r.Revisions.BranchBindingRepo != "" {
				fmt.Fprintf(&b, "%s=%s\n", revision.BindingRepoKey(bc.DirectivePrefix), r.Revisions.BranchBindingRepo)
			}
		}
		_, err := io.WriteString(w, b.String())
		return err

	case "text":
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(mutedStyle).
			Headers("BINDING", "TRUNK CORE", "BRANCH CORE", "TRUNK BINDING", "BRANCH BINDING", "BINDING REPO")
		for _, r := range resolved {
			repo := r.Revisions.BranchBindingRepo
			if repo == "" {
				repo = mutedStyle.Render("default")
			}
			t.Row(r.Binding, r.Revisions.TrunkCoreRef, r.Revisions.BranchCoreRef,
				r.Revisions.TrunkBindingRef, r.Revisions.BranchBindingRef, repo)
		}
		_, err := fmt.Fprintln(w, t.Render())
		return err

	default:
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("unknown output format %q", format)).
			WithSuggestion("Use text, json or env")
	}
}
