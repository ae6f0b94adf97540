package strategy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// autofixLayer is the last resort: when neither the model nor the rules
// produced anything, let the linter's own fixer mutate the repository and
// report what it eliminated. The resulting fixes are flagged already
// applied so the patch applier records them without touching the files.
type autofixLayer struct {
	fixer  LintFixer
	logger *zap.Logger
}

func (a *autofixLayer) generate(ctx context.Context, req schemas.GenerateRequest) []schemas.Fix {
	before := make([]schemas.NormalizedError, 0, len(req.Errors))
	for _, e := range req.Errors {
		if e.RuleCode != "" {
			before = append(before, e)
		}
	}
	if len(before) == 0 {
		return nil
	}

	n, err := a.fixer.AutoFix(ctx, req.RepoPath)
	if err != nil {
		a.logger.Warn("Linter auto-fix pass failed.", zap.Error(err))
		return nil
	}
	if n == 0 {
		return nil
	}

	// Re-lint and diff against the pre-fix batch. Entries no longer
	// reported were resolved by the fixer. Line shifts from deletions can
	// misattribute the odd entry; the next analysis pass corrects that.
	remaining := make(map[schemas.ErrorKey]bool)
	for _, e := range a.fixer.Lint(ctx, req.RepoPath) {
		remaining[e.Key()] = true
	}

	var fixes []schemas.Fix
	for _, e := range before {
		if remaining[e.Key()] {
			continue
		}
		fixes = append(fixes, schemas.Fix{
			FilePath:       e.FilePath,
			LineNumber:     e.LineNumber,
			BugType:        e.BugType,
			FixDescription: fmt.Sprintf("Resolved by the linter auto-fix pass (%s)", e.RuleCode),
			CommitMessage:  fmt.Sprintf("%s Fix %s error in %s", schemas.CommitPrefix, e.BugType, e.FilePath),
			AlreadyApplied: true,
		})
	}
	a.logger.Info("Linter auto-fix layer resolved diagnostics.",
		zap.Int("reported_fixed", n),
		zap.Int("eliminated", len(fixes)))
	return fixes
}
