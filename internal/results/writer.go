package results

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SummaryFileName is the default artifact name written at the repository root.
const SummaryFileName = "results.json"

// Write persists the summary document inside the repository and returns the
// full path. An empty fileName selects the default.
func Write(repoPath, fileName string, summary *schemas.RunSummary) (string, error) {
	if fileName == "" {
		fileName = SummaryFileName
	}
	path := filepath.Join(repoPath, fileName)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write run summary: %w", err)
	}
	return path, nil
}

// Load reads back a previously written summary document.
func Load(path string) (*schemas.RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run summary: %w", err)
	}
	var s schemas.RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode run summary %s: %w", path, err)
	}
	return &s, nil
}
