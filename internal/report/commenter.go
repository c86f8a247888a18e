package report

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v73/github"
	"golang.org/x/oauth2"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/version"
)

// Commenter posts text to a pull request
type Commenter interface {
	Comment(ctx context.Context, rc domain.RunContext, body string) error
}

// GitHubCommenter posts issue comments through the REST API
type GitHubCommenter struct {
	client *github.Client
}

// NewGitHubCommenter creates a commenter authenticated with token. apiURL
// selects a GitHub Enterprise endpoint when non-empty.
func NewGitHubCommenter(ctx context.Context, token, apiURL string) (*GitHubCommenter, error) {
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(hc)
	client.UserAgent = version.GetInfo().UserAgent()
	if apiURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("github api url: %w", err)
		}
	}
	return &GitHubCommenter{client: client}, nil
}

// NewGitHubCommenterWithClient wraps an existing client
func NewGitHubCommenterWithClient(client *github.Client) *GitHubCommenter {
	return &GitHubCommenter{client: client}
}

// Comment creates a new comment on the pull request
func (g *GitHubCommenter) Comment(ctx context.Context, rc domain.RunContext, body string) error {
	_, resp, err := g.client.Issues.CreateComment(ctx, rc.Owner(), rc.Repo(), rc.PR(), &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fmt.Errorf("create comment on %s (status %d): %w", rc.Key(), status, err)
	}
	return nil
}

// LogCommenter writes comments to the log instead of a pull request. It is
// used for local runs without a token.
type LogCommenter struct {
	Logger *log.Logger
}

// Comment logs the body
func (l LogCommenter) Comment(ctx context.Context, rc domain.RunContext, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}
	logger.InfoContext(ctx, "pull request comment",
		"pr", rc.Key(),
		"bytes", len(body),
		"first_line", strings.SplitN(body, "\n", 2)[0],
	)
	return nil
}
