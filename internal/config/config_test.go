package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

func newViperWithDefaults() *viper.Viper {
	v := viper.New()
	config.SetDefaults(v)
	return v
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	v := newViperWithDefaults()
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "suture", cfg.Logger.ServiceName)

	assert.Equal(t, 5, cfg.Repair.MaxIterations)
	assert.Equal(t, "results.json", cfg.Repair.ResultsFile)
	assert.True(t, cfg.Repair.EmitProgress)
	assert.Equal(t, 150, cfg.Repair.FullFileLineLimit)
	assert.Equal(t, 10, cfg.Repair.ContextRadius)

	assert.Equal(t, 60*time.Second, cfg.LLM.RequestTimeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, 30, cfg.LLM.RequestsPerMinute)

	assert.Equal(t, "ruff", cfg.Sandbox.RuffBin)
	assert.Equal(t, "mypy", cfg.Sandbox.MypyBin)
	assert.Equal(t, "pytest", cfg.Sandbox.PytestBin)
	assert.Equal(t, 120*time.Second, cfg.Sandbox.CommandTimeout)

	assert.Equal(t, ":8787", cfg.Server.ListenAddr)
	assert.False(t, cfg.Store.Enabled)
	assert.False(t, cfg.Git.Enabled)
}

func TestProviderKeyFallbacks(t *testing.T) {
	t.Parallel()

	t.Run("synthesizes a chain from bare keys", func(t *testing.T) {
		t.Parallel()
		v := newViperWithDefaults()
		v.Set("llm.gemini_api_key", "g-key")
		v.Set("llm.openai_api_key", "o-key")

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		require.Len(t, cfg.LLM.Providers, 2)
		assert.Equal(t, config.ProviderGemini, cfg.LLM.Providers[0].Name)
		assert.Equal(t, "g-key", cfg.LLM.Providers[0].APIKey)
		assert.Equal(t, config.ProviderOpenAI, cfg.LLM.Providers[1].Name)
		assert.Equal(t, "o-key", cfg.LLM.Providers[1].APIKey)
	})

	t.Run("explicit provider inherits the matching key", func(t *testing.T) {
		t.Parallel()
		v := newViperWithDefaults()
		v.Set("llm.gemini_api_key", "g-key")
		v.Set("llm.providers", []map[string]any{
			{"name": "gemini", "model": "gemini-2.5-pro"},
		})

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		require.Len(t, cfg.LLM.Providers, 1)
		assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Providers[0].Model)
		assert.Equal(t, "g-key", cfg.LLM.Providers[0].APIKey)
	})

	t.Run("explicit key is never overwritten", func(t *testing.T) {
		t.Parallel()
		v := newViperWithDefaults()
		v.Set("llm.gemini_api_key", "env-key")
		v.Set("llm.providers", []map[string]any{
			{"name": "gemini", "model": "gemini-2.5-pro", "api_key": "file-key"},
		})

		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "file-key", cfg.LLM.Providers[0].APIKey)
	})

	t.Run("no keys means an empty chain, not an error", func(t *testing.T) {
		t.Parallel()
		v := newViperWithDefaults()
		cfg, err := config.NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Empty(t, cfg.LLM.Providers)
	})
}

func TestValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "zero max iterations",
			mutate:  func(v *viper.Viper) { v.Set("repair.max_iterations", 0) },
			wantErr: "max_iterations",
		},
		{
			name: "unknown provider name",
			mutate: func(v *viper.Viper) {
				v.Set("llm.providers", []map[string]any{{"name": "mystery", "model": "m"}})
			},
			wantErr: "not a known provider",
		},
		{
			name: "provider without model",
			mutate: func(v *viper.Viper) {
				v.Set("llm.providers", []map[string]any{{"name": "gemini", "api_key": "k"}})
			},
			wantErr: "model is required",
		},
		{
			name:    "store enabled without dsn",
			mutate:  func(v *viper.Viper) { v.Set("store.enabled", true) },
			wantErr: "store.dsn",
		},
		{
			name: "open_pr without repo coordinates",
			mutate: func(v *viper.Viper) {
				v.Set("git.github.open_pr", true)
				v.Set("git.github.token", "tok")
			},
			wantErr: "repo_owner",
		},
		{
			name:    "non-positive command timeout",
			mutate:  func(v *viper.Viper) { v.Set("sandbox.command_timeout", "0s") },
			wantErr: "command_timeout",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := newViperWithDefaults()
			tt.mutate(v)
			_, err := config.NewConfigFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadRunRequest(t *testing.T) {
	t.Parallel()

	writeFile := func(t *testing.T, content string) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), "run.json")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("valid file", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, `{
			"repo_path": "/tmp/target",
			"team_name": "RIFT ORGANISERS",
			"leader_name": "Saiyam Kumar",
			"max_iterations": 7
		}`)

		req, err := config.LoadRunRequest(path, 5)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/target", req.RepoPath)
		assert.Equal(t, "RIFT ORGANISERS", req.TeamName)
		assert.Equal(t, 7, req.MaxIterations)
	})

	t.Run("missing max_iterations falls back to default", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, `{"repo_path": "/tmp/target"}`)
		req, err := config.LoadRunRequest(path, 5)
		require.NoError(t, err)
		assert.Equal(t, 5, req.MaxIterations)
	})

	t.Run("missing repo_path is an error", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, `{"team_name": "x"}`)
		_, err := config.LoadRunRequest(path, 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repo_path")
	})

	t.Run("malformed JSON is an error", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, `{nope`)
		_, err := config.LoadRunRequest(path, 5)
		require.Error(t, err)
	})

	t.Run("absent file is an error", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadRunRequest(filepath.Join(t.TempDir(), "missing.json"), 5)
		require.Error(t, err)
	})
}
