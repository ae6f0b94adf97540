// Package gitops implements the optional git workflow around a repair run:
// a derived branch, one commit per applied fix, and a draft pull request once
// the run terminates.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/repair"
)

// Committer checks out the run branch and records each applied fix as its own
// commit. Safe for use by a single run at a time; Begin must be called before
// Commit.
type Committer struct {
	cfg    config.GitConfig
	logger *zap.Logger

	mu    sync.Mutex
	wt    *git.Worktree
	count int
}

var _ repair.Committer = (*Committer)(nil)

func NewCommitter(cfg config.GitConfig, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{cfg: cfg, logger: logger.Named("gitops")}
}

// Begin opens the repository and checks out branch, creating it from the
// current HEAD when it does not exist yet. Local modifications survive the
// checkout.
func (c *Committer) Begin(_ context.Context, repoPath, branch string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repository %s: %w", repoPath, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := repo.Head(); err != nil {
		return fmt.Errorf("resolve HEAD (repository has no commits?): %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	opts := git.CheckoutOptions{Branch: ref, Keep: true}
	if _, err := repo.Reference(ref, true); err != nil {
		opts.Create = true
	}
	if err := wt.Checkout(&opts); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}

	c.mu.Lock()
	c.wt = wt
	c.count = 0
	c.mu.Unlock()

	c.logger.Info("run branch checked out",
		zap.String("repo", repoPath),
		zap.String("branch", branch),
		zap.Bool("created", opts.Create))
	return nil
}

// Commit stages the record's file and commits it with the fix's commit
// message, the fix description as the body. A fix that left the file
// byte-identical is skipped rather than recorded as an empty commit.
func (c *Committer) Commit(_ context.Context, _ string, rec schemas.FixRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wt == nil {
		return errors.New("gitops: Commit called before Begin")
	}

	if _, err := c.wt.Add(rec.FilePath); err != nil {
		return fmt.Errorf("stage %s: %w", rec.FilePath, err)
	}

	message := rec.CommitMessage
	if rec.FixDescription != "" {
		message += "\n\n" + rec.FixDescription
	}

	hash, err := c.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.authorName(),
			Email: c.authorEmail(),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		c.logger.Debug("fix produced no diff, skipping commit", zap.String("file", rec.FilePath))
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit %s: %w", rec.FilePath, err)
	}

	c.count++
	c.logger.Debug("fix committed",
		zap.String("file", rec.FilePath),
		zap.Int("line", rec.LineNumber),
		zap.String("hash", hash.String()[:8]))
	return nil
}

// Count reports how many commits this run produced so far.
func (c *Committer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *Committer) authorName() string {
	if c.cfg.AuthorName != "" {
		return c.cfg.AuthorName
	}
	return "suture-agent"
}

func (c *Committer) authorEmail() string {
	if c.cfg.AuthorEmail != "" {
		return c.cfg.AuthorEmail
	}
	return "agent@suture.dev"
}
