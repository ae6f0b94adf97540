// Package logs turns raw analysis-tool output into the normalized,
// deduplicated error list the repair loop consumes. Each tool gets its own
// tolerant parser: a missing or malformed payload contributes zero findings
// and a warning, never a failed pass.
package logs

import (
	"context"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/classify"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Inputs carries the captured output of each analysis tool for one pass.
// Any slot may be empty; absence means zero findings from that tool.
type Inputs struct {
	RuffJSON   []byte
	MypyText   []byte
	PytestJSON []byte
	JUnitXML   []byte
}

// Aggregator merges tool outputs into one normalized error list.
type Aggregator struct {
	logger *zap.Logger
}

// NewAggregator initializes an aggregator. A nil logger is replaced with a
// no-op logger so the parsers can warn unconditionally.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger.Named("log_aggregator")}
}

// Aggregate parses every tool output, classifies the findings, deduplicates
// them by (file, line, bug_type) and returns them sorted by file then line.
// The result is deterministic: the same inputs always produce the same slice.
func (a *Aggregator) Aggregate(ctx context.Context, in Inputs) []schemas.NormalizedError {
	var ruff, mypy, pytest, junit []schemas.RawFinding

	// Parse in parallel. Each parser owns one slot, so the merge below stays
	// deterministic regardless of completion order.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { ruff = a.parseRuff(in.RuffJSON); return nil })
	g.Go(func() error { mypy = a.parseMypy(in.MypyText); return nil })
	g.Go(func() error { pytest = a.parsePytest(in.PytestJSON); return nil })
	g.Go(func() error { junit = a.parseJUnit(in.JUnitXML); return nil })
	_ = g.Wait()

	// Merge order fixes the dedup priority: the linter wins over the type
	// checker, which wins over the test runner. The JUnit supplement comes
	// last so a pytest JSON report for the same failure takes precedence.
	raw := make([]schemas.RawFinding, 0, len(ruff)+len(mypy)+len(pytest)+len(junit))
	raw = append(raw, ruff...)
	raw = append(raw, mypy...)
	raw = append(raw, pytest...)
	raw = append(raw, junit...)

	valid := a.validate(dedupe(a.normalize(raw)))

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].FilePath != valid[j].FilePath {
			return valid[i].FilePath < valid[j].FilePath
		}
		return valid[i].LineNumber < valid[j].LineNumber
	})

	if len(valid) > 0 {
		a.logger.Debug("Aggregated analysis findings.",
			zap.Int("raw", len(raw)),
			zap.Int("normalized", len(valid)))
	}
	return valid
}

// normalize classifies each raw finding and canonicalizes its path. Paths are
// normalized before deduplication so the same file reported with different
// separators collapses to one key.
func (a *Aggregator) normalize(raw []schemas.RawFinding) []schemas.NormalizedError {
	out := make([]schemas.NormalizedError, 0, len(raw))
	for _, f := range raw {
		out = append(out, schemas.NormalizedError{
			FilePath:   normalizePath(f.File),
			LineNumber: f.Line,
			BugType:    classify.Classify(f),
			RawMessage: f.Message,
			RuleCode:   f.RuleCode,
		})
	}
	return out
}

// dedupe drops later findings that share a (file, line, bug_type) key with an
// earlier one. Callers order the input so higher-priority sources come first.
func dedupe(errs []schemas.NormalizedError) []schemas.NormalizedError {
	seen := make(map[schemas.ErrorKey]struct{}, len(errs))
	unique := make([]schemas.NormalizedError, 0, len(errs))
	for _, e := range errs {
		key := e.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, e)
	}
	return unique
}

// validate drops entries that violate the interchange schema and fills the
// message placeholder. Dropping is logged so silently vanishing findings do
// not confuse a stalled run.
func (a *Aggregator) validate(errs []schemas.NormalizedError) []schemas.NormalizedError {
	valid := make([]schemas.NormalizedError, 0, len(errs))
	for i, e := range errs {
		switch {
		case e.FilePath == "":
			a.logger.Warn("Dropping finding with empty file path.", zap.Int("index", i))
			continue
		case e.LineNumber <= 0:
			a.logger.Warn("Dropping finding with invalid line number.",
				zap.Int("index", i), zap.Int("line", e.LineNumber))
			continue
		case !e.BugType.Valid():
			a.logger.Warn("Dropping finding with unknown bug type.",
				zap.Int("index", i), zap.String("bug_type", string(e.BugType)))
			continue
		}
		if e.RawMessage == "" {
			e.RawMessage = "Unknown error"
		}
		valid = append(valid, e)
	}
	return valid
}

// normalizePath converts Windows separators to forward slashes and strips a
// leading "./" so paths compare equal regardless of which tool emitted them.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.TrimPrefix(p, "./")
}
