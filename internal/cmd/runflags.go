package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
)

// runFlags describe the pull request a command acts on
type runFlags struct {
	owner    string
	repo     string
	pr       int
	head     string
	base     string
	event    string
	labels   []string
	body     string
	bodyFile string
	bindings []string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.owner, "owner", "", "repository owner (default from GITHUB_REPOSITORY or core.repo)")
	fs.StringVar(&f.repo, "repo", "", "repository name (default from GITHUB_REPOSITORY or core.repo)")
	fs.IntVar(&f.pr, "pr", 0, "pull request number")
	fs.StringVar(&f.head, "head", "", "head commit of the pull request")
	fs.StringVar(&f.base, "base", "", "target branch of the pull request")
	fs.StringVar(&f.event, "event", string(domain.EventSynchronize), "triggering event (opened, synchronize, reopened, labeled)")
	fs.StringSliceVar(&f.labels, "label", nil, "label applied to the pull request (repeatable); omit when label data is unavailable")
	fs.StringVar(&f.body, "body", "", "pull request description holding override directives")
	fs.StringVar(&f.bodyFile, "body-file", "", "read the pull request description from a file, - for stdin")
	fs.StringSliceVar(&f.bindings, "binding", nil, "binding to run (repeatable, default all)")
	_ = cmd.MarkFlagRequired("pr")
	_ = cmd.MarkFlagRequired("head")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

// runContext builds the RunContext. Labels stay nil unless --label was
// given, so that an unknown label set fails the gate closed.
func (f *runFlags) runContext(cmd *cobra.Command, cfg *config.Config) (domain.RunContext, error) {
	body := f.body
	if f.bodyFile != "" {
		var (
			data []byte
			err  error
		)
		if f.bodyFile == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(f.bodyFile)
		}
		if err != nil {
			return domain.RunContext{}, errors.Wrap(errors.ErrCodeConfigInvalid, "read pull request body", err)
		}
		body = string(data)
	}

	var labels []string
	if cmd.Flags().Changed("label") {
		labels = make([]string, 0, len(f.labels))
		for _, l := range f.labels {
			if l != "" {
				labels = append(labels, l)
			}
		}
	}

	owner, repo := f.owner, f.repo
	if owner == "" || repo == "" {
		o, r := repoSlug(cfg.Core.Repo)
		if owner == "" {
			owner = o
		}
		if repo == "" {
			repo = r
		}
	}

	rc, err := domain.NewRunContext(domain.RunContextParams{
		Owner:   owner,
		Repo:    repo,
		PR:      f.pr,
		HeadSHA: f.head,
		BaseRef: f.base,
		Event:   domain.EventKind(f.event),
		Labels:  labels,
		Body:    body,
	})
	if err != nil {
		return domain.RunContext{}, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("pull request #%d", f.pr), err)
	}
	return rc, nil
}
