// Package strategy turns one iteration's error batch into a candidate fix
// set. Three layers run in priority order: the model layer, a deterministic
// rule catalogue for lint codes with mechanical rewrites, and the linter's
// own fixer as a last resort. At most one fix survives per (file, line) key,
// taken from the highest-priority layer that produced one.
package strategy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// LintFixer is the sandbox capability the last-resort layer drives: mutate
// the repository with the linter's own fixer, then re-lint to learn which
// diagnostics it eliminated.
type LintFixer interface {
	schemas.AutoFixer
	Lint(ctx context.Context, repoPath string) []schemas.NormalizedError
}

// Engine implements schemas.FixGenerator by layering the strategies.
type Engine struct {
	llm     *llmLayer
	rules   *ruleLayer
	autofix *autofixLayer
	logger  *zap.Logger
}

var _ schemas.FixGenerator = (*Engine)(nil)

// NewEngine assembles the layered generator. A model client is mandatory: a
// run with no usable provider must fail loudly at construction, not proceed
// as a silent no-op. The fixer is optional; without it the last-resort layer
// is disabled.
func NewEngine(client schemas.LLMClient, fixer LintFixer, cfg config.RepairConfig, logger *zap.Logger) (*Engine, error) {
	if client == nil {
		return nil, errors.New("strategy: an LLM client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("strategy")

	eng := &Engine{
		llm:    &llmLayer{client: client, cfg: cfg, logger: logger.Named("model")},
		rules:  &ruleLayer{logger: logger.Named("rules")},
		logger: logger,
	}
	if fixer != nil {
		eng.autofix = &autofixLayer{fixer: fixer, logger: logger.Named("autofix")}
	}
	return eng, nil
}

// Generate produces the iteration's fix batch. A model failure degrades to
// the deterministic layers instead of aborting; an empty result for a
// nonempty error batch is a valid "nothing fixable this round" outcome.
func (e *Engine) Generate(ctx context.Context, req schemas.GenerateRequest) ([]schemas.Fix, error) {
	if len(req.Errors) == 0 {
		return nil, nil
	}
	files := newFileSet(req.RepoPath)

	llmFixes, err := e.llm.generate(ctx, req, files)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		e.logger.Warn("Model layer failed; continuing with deterministic layers.", zap.Error(err))
	}

	covered := make(map[schemas.FileLine]bool, len(llmFixes))
	for _, f := range llmFixes {
		covered[f.Location()] = true
	}

	ruleFixes := e.rules.generate(ctx, req, files, covered)

	var autoFixes []schemas.Fix
	if e.autofix != nil && len(llmFixes) == 0 && len(ruleFixes) == 0 {
		autoFixes = e.autofix.generate(ctx, req)
	}

	merged := mergeLayers(llmFixes, ruleFixes, autoFixes)
	e.logger.Info("Fix generation complete.",
		zap.Int("model", len(llmFixes)),
		zap.Int("rules", len(ruleFixes)),
		zap.Int("autofix", len(autoFixes)),
		zap.Int("merged", len(merged)))
	return merged, nil
}

// mergeLayers keeps the first fix per (file, line) key, in the order the
// layers are passed.
func mergeLayers(layers ...[]schemas.Fix) []schemas.Fix {
	var out []schemas.Fix
	seen := make(map[schemas.FileLine]bool)
	for _, layer := range layers {
		for _, f := range layer {
			if seen[f.Location()] {
				continue
			}
			seen[f.Location()] = true
			out = append(out, f)
		}
	}
	return out
}
