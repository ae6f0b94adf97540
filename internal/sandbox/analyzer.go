package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/logs"
)

// Analyzer drives the read-only analysis pass: it invokes each tool through
// the Runner and hands the captured output to the log aggregator.
type Analyzer struct {
	runner *Runner
	agg    *logs.Aggregator
	cfg    config.SandboxConfig
	logger *zap.Logger
}

var (
	_ schemas.Analyzer  = (*Analyzer)(nil)
	_ schemas.AutoFixer = (*Analyzer)(nil)
)

// NewAnalyzer initializes an analyzer. The runner and aggregator are
// required; a nil logger falls back to a no-op logger.
func NewAnalyzer(runner *Runner, agg *logs.Aggregator, cfg config.SandboxConfig, logger *zap.Logger) (*Analyzer, error) {
	if runner == nil {
		return nil, errors.New("sandbox: runner is required")
	}
	if agg == nil {
		return nil, errors.New("sandbox: aggregator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		runner: runner,
		agg:    agg,
		cfg:    cfg,
		logger: logger.Named("analyzer"),
	}, nil
}

// Analyze runs ruff, mypy and pytest against the repository and returns the
// aggregated, normalized error list. Only an unusable repository path is an
// error; individual tool failures degrade to zero findings from that tool.
func (an *Analyzer) Analyze(ctx context.Context, repoPath string) ([]schemas.NormalizedError, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return nil, fmt.Errorf("repository path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository path %s is not a directory", repoPath)
	}

	ruff := an.runner.Run(ctx, repoPath, an.cfg.RuffBin, "check", "--output-format=json", ".")
	mypy := an.runner.Run(ctx, repoPath, an.cfg.MypyBin, "--show-column-numbers", ".")
	pytestJSON := an.runPytest(ctx, repoPath)

	found := an.agg.Aggregate(ctx, logs.Inputs{
		RuffJSON:   ruff.Stdout,
		MypyText:   mypy.Stdout,
		PytestJSON: pytestJSON,
	})

	an.logger.Info("Analysis pass complete.",
		zap.String("repo", repoPath),
		zap.Int("errors", len(found)))
	return found, nil
}

// runPytest executes pytest with the JSON report plugin writing outside the
// repository, so the report never shows up as an untracked file in the repo
// being repaired.
func (an *Analyzer) runPytest(ctx context.Context, repoPath string) []byte {
	reportDir, err := os.MkdirTemp("", "suture-pytest-*")
	if err != nil {
		an.logger.Warn("Could not create pytest report directory.", zap.Error(err))
		return nil
	}
	defer os.RemoveAll(reportDir)

	reportPath := filepath.Join(reportDir, "report.json")
	res := an.runner.Run(ctx, repoPath, an.cfg.PytestBin,
		"-q", "--json-report", "--json-report-file="+reportPath)

	data, err := os.ReadFile(reportPath)
	if err != nil {
		// The json-report plugin may be missing; without the report the run
		// carries no per-test findings.
		an.logger.Warn("Pytest produced no JSON report.",
			zap.Int("exit_code", res.ExitCode), zap.Error(err))
		return nil
	}
	return data
}

// fixedCountRe matches the summary line ruff prints after an auto-fix pass.
var fixedCountRe = regexp.MustCompile(`Fixed (\d+)`)

// AutoFix runs ruff's fixer with unsafe fixes enabled and reports how many
// diagnostics it resolved, parsed from the tool's summary output. A missing
// summary means zero fixes, not an error.
func (an *Analyzer) AutoFix(ctx context.Context, repoPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	res := an.runner.Run(ctx, repoPath, an.cfg.RuffBin, "check", "--fix", "--unsafe-fixes", ".")

	combined := append(append([]byte{}, res.Stdout...), res.Stderr...)
	m := fixedCountRe.FindSubmatch(combined)
	if m == nil {
		return 0, nil
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, nil
	}
	if n > 0 {
		an.logger.Info("Linter auto-fix resolved diagnostics.", zap.Int("fixed", n))
	}
	return n, nil
}

// Lint runs a read-only ruff pass and returns its normalized findings. The
// strategy engine diffs this against a pre-fix batch to learn which entries
// an auto-fix pass eliminated.
func (an *Analyzer) Lint(ctx context.Context, repoPath string) []schemas.NormalizedError {
	res := an.runner.Run(ctx, repoPath, an.cfg.RuffBin, "check", "--output-format=json", ".")
	return an.agg.Aggregate(ctx, logs.Inputs{RuffJSON: res.Stdout})
}
