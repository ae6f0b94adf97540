package strategy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/tools/txtar"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// scriptedClient plays back a canned model response and records the prompts
// it was sent.
type scriptedClient struct {
	mu         sync.Mutex
	response   string
	err        error
	errFromCtx bool
	calls      int
	lastSystem string
	lastUser   string
}

func (c *scriptedClient) Generate(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastSystem = system
	c.lastUser = user
	if c.errFromCtx {
		return "", ctx.Err()
	}
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) userPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUser
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stubLintFixer scripts the sandbox surface the last-resort layer drives.
type stubLintFixer struct {
	mu        sync.Mutex
	fixedN    int
	fixErr    error
	after     []schemas.NormalizedError
	autoCalls int
	lintCalls int
}

func (s *stubLintFixer) AutoFix(context.Context, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCalls++
	return s.fixedN, s.fixErr
}

func (s *stubLintFixer) Lint(context.Context, string) []schemas.NormalizedError {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lintCalls++
	return s.after
}

func (s *stubLintFixer) autoFixCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoCalls
}

// writeRepo materializes a txtar archive as a repository under a temp dir.
func writeRepo(t *testing.T, archive string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range txtar.Parse([]byte(archive)).Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
	return dir
}

func testRepairConfig() config.RepairConfig {
	return config.RepairConfig{
		MaxIterations:     5,
		FullFileLineLimit: 150,
		ContextRadius:     10,
	}
}

func newTestEngine(t *testing.T, client schemas.LLMClient, fixer LintFixer) *Engine {
	t.Helper()
	eng, err := NewEngine(client, fixer, testRepairConfig(), zap.NewNop())
	require.NoError(t, err)
	return eng
}
