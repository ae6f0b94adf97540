package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

type stubClient struct {
	name  string
	out   string
	err   error
	calls int
}

func (s *stubClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func (s *stubClient) Name() string { return s.name }

func TestNewChainRequiresClients(t *testing.T) {
	t.Parallel()
	_, err := NewChain(nil, 0, 0, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestChainUsesPrimaryFirst(t *testing.T) {
	t.Parallel()
	primary := &stubClient{name: "gemini:flash", out: "primary-result"}
	fallback := &stubClient{name: "openai:mini", out: "fallback-result"}

	chain, err := NewChain([]schemas.LLMClient{primary, fallback}, 0, 0, zap.NewNop())
	require.NoError(t, err)

	out, err := chain.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "primary-result", out)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, fallback.calls, "fallback must not be consulted when the primary succeeds")
}

func TestChainFallsBackOnFailure(t *testing.T) {
	t.Parallel()
	primary := &stubClient{name: "gemini:flash", err: errors.New("quota exceeded")}
	fallback := &stubClient{name: "openai:mini", out: "fallback-result"}

	chain, err := NewChain([]schemas.LLMClient{primary, fallback}, 0, 0, zap.NewNop())
	require.NoError(t, err)

	out, err := chain.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "fallback-result", out)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestChainReportsEveryFailedProvider(t *testing.T) {
	t.Parallel()
	primary := &stubClient{name: "gemini:flash", err: errors.New("boom-a")}
	fallback := &stubClient{name: "openai:mini", err: errors.New("boom-b")}

	chain, err := NewChain([]schemas.LLMClient{primary, fallback}, 0, 0, zap.NewNop())
	require.NoError(t, err)

	_, err = chain.Generate(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini:flash")
	assert.Contains(t, err.Error(), "openai:mini")
	assert.Contains(t, err.Error(), "boom-a")
	assert.Contains(t, err.Error(), "boom-b")
}

func TestChainStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()
	primary := &stubClient{name: "gemini:flash", err: errors.New("died")}
	fallback := &stubClient{name: "openai:mini", out: "never"}

	ctx, cancel := context.WithCancel(context.Background())
	chain, err := NewChain([]schemas.LLMClient{primary, fallback}, 0, 0, zap.NewNop())
	require.NoError(t, err)

	cancel()
	_, err = chain.Generate(ctx, "sys", "user")
	require.Error(t, err)
	assert.Zero(t, fallback.calls, "cancelled context must stop the fallback walk")
}

func TestChainHonorsPerAttemptTimeout(t *testing.T) {
	t.Parallel()
	slow := &slowClient{delay: 5 * time.Second}
	fast := &stubClient{name: "openai:mini", out: "rescued"}

	chain, err := NewChain([]schemas.LLMClient{slow, fast}, 0, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	out, err := chain.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "rescued", out)
	assert.Less(t, time.Since(start), 2*time.Second, "the per-attempt timeout must cut the slow provider short")
}

func TestChainName(t *testing.T) {
	t.Parallel()
	chain, err := NewChain([]schemas.LLMClient{
		&stubClient{name: "gemini:flash"},
		&stubClient{name: "openai:mini"},
	}, 0, 0, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "chain(gemini:flash,openai:mini)", chain.Name())
}

type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	select {
	case <-time.After(s.delay):
		return "too-late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *slowClient) Name() string { return "slow" }
