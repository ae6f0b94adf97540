// File: cmd/repair_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

func TestResolveRunRequest_Positional(t *testing.T) {
	repo := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		want    schemas.RunRequest
		wantErr string
	}{
		{
			name: "repo path only",
			args: []string{repo},
			want: schemas.RunRequest{RepoPath: repo},
		},
		{
			name: "full identity",
			args: []string{repo, "ACME", "BOB", "3"},
			want: schemas.RunRequest{RepoPath: repo, TeamName: "ACME", LeaderName: "BOB", MaxIterations: 3},
		},
		{
			name:    "no arguments",
			args:    nil,
			wantErr: "a repository path is required",
		},
		{
			name:    "non-numeric iterations",
			args:    []string{repo, "ACME", "BOB", "lots"},
			wantErr: `invalid max-iterations "lots"`,
		},
		{
			name:    "zero iterations",
			args:    []string{repo, "ACME", "BOB", "0"},
			wantErr: `invalid max-iterations "0"`,
		},
		{
			name:    "repo path does not exist",
			args:    []string{filepath.Join(repo, "nope")},
			wantErr: "invalid repo_path",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := resolveRunRequest(tc.args, "")
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, req)
		})
	}
}

func TestResolveRunRequest_RepoPathMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "repo.txt")
	require.NoError(t, os.WriteFile(file, []byte("not a directory"), 0o644))

	_, err := resolveRunRequest([]string{file}, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid repo_path")
}

func TestResolveRunRequest_ConfigJSON(t *testing.T) {
	repo := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "run.json")
	body := `{"repo_path": "` + repo + `", "team_name": "ACME", "leader_name": "BOB", "max_iterations": 2}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))

	req, err := resolveRunRequest(nil, cfgPath)

	require.NoError(t, err)
	assert.Equal(t, repo, req.RepoPath)
	assert.Equal(t, "ACME", req.TeamName)
	assert.Equal(t, "BOB", req.LeaderName)
	assert.Equal(t, 2, req.MaxIterations)
}

func TestResolveRunRequest_ConfigJSONErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := resolveRunRequest(nil, filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read run config")
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := resolveRunRequest(nil, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse run config")
	})

	t.Run("repo_path is mandatory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"team_name": "ACME"}`), 0o644))

		_, err := resolveRunRequest(nil, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "repo_path is required")
	})
}

func TestApplyRunOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Repair.TeamName = "default-team"
	cfg.Repair.LeaderName = "default-leader"
	cfg.Repair.MaxIterations = 5

	applyRunOverrides(cfg, schemas.RunRequest{TeamName: "ACME", MaxIterations: 2})

	assert.Equal(t, "ACME", cfg.Repair.TeamName)
	// Empty request fields leave the configured value alone.
	assert.Equal(t, "default-leader", cfg.Repair.LeaderName)
	assert.Equal(t, 2, cfg.Repair.MaxIterations)
}

func TestRepairCmd_RejectsTooManyArgs(t *testing.T) {
	_, err := execute(t, "repair", "a", "b", "c", "4", "extra")

	require.Error(t, err)
}

func TestRepairCmd_MissingRepoPath(t *testing.T) {
	_, err := execute(t, "repair")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a repository path is required")
}
