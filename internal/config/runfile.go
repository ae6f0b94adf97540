package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadRunRequest reads a run-request JSON file, the alternative to positional
// CLI arguments. Unknown fields are ignored; missing max_iterations falls back
// to the given default.
func LoadRunRequest(path string, defaultMaxIterations int) (schemas.RunRequest, error) {
	var req schemas.RunRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read run config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse run config %s: %w", path, err)
	}

	if req.RepoPath == "" {
		return req, fmt.Errorf("run config %s: repo_path is required", path)
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = defaultMaxIterations
	}
	return req, nil
}
