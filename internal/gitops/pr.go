// internal/gitops/pr.go
package gitops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/repair"
	"github.com/xkilldash9x/suture-cli/internal/results"
)

// NewGitHubClient builds an authenticated API client. Token handling stays in
// config; this is the only place it crosses into the GitHub SDK.
func NewGitHubClient(token string) *github.Client {
	return github.NewClient(nil).WithAuthToken(token)
}

// PRCreator opens a draft pull request for a finished run, with the run
// summary as the body and per-fix diff suggestions appended.
type PRCreator struct {
	client *github.Client
	cfg    config.GitHubConfig
	logger *zap.Logger
}

func NewPRCreator(client *github.Client, cfg config.GitHubConfig, logger *zap.Logger) (*PRCreator, error) {
	if client == nil {
		return nil, errors.New("gitops: a GitHub client is required")
	}
	if cfg.RepoOwner == "" || cfg.RepoName == "" {
		return nil, errors.New("gitops: repo_owner and repo_name are required to open pull requests")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PRCreator{client: client, cfg: cfg, logger: logger.Named("gitops")}, nil
}

// Open creates the draft PR from the run branch onto the configured base and
// returns its HTML URL.
func (p *PRCreator) Open(ctx context.Context, res *repair.Result) (string, error) {
	s := res.Summary
	if s == nil {
		return "", errors.New("gitops: run produced no summary")
	}

	title := fmt.Sprintf("fix: automated CI repair of %s", filepath.Base(s.Repository))
	body := results.Markdown(s, res.Stagnated) +
		"\n## Suggested changes\n\n" +
		results.DiffSuggestions(res.Records)

	pr, _, err := p.client.PullRequests.Create(ctx, p.cfg.RepoOwner, p.cfg.RepoName, &github.NewPullRequest{
		Title:               github.String(title),
		Head:                github.String(s.BranchName),
		Base:                github.String(p.cfg.BaseBranch),
		Body:                github.String(body),
		Draft:               github.Bool(true),
		MaintainerCanModify: github.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("create pull request: %w", err)
	}

	p.logger.Info("draft pull request opened",
		zap.Int("number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()),
		zap.String("head", s.BranchName),
		zap.String("base", p.cfg.BaseBranch))
	return pr.GetHTMLURL(), nil
}
