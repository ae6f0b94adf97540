// File: cmd/logs_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func TestLogsCmd_AggregatesReports(t *testing.T) {
	dir := t.TempDir()

	ruffPath := filepath.Join(dir, "ruff.json")
	ruffBody := `[{"code": "F401", "message": "os imported but unused", "filename": "src/app.py", "location": {"row": 3, "column": 1}}]`
	require.NoError(t, os.WriteFile(ruffPath, []byte(ruffBody), 0o644))

	mypyPath := filepath.Join(dir, "mypy.txt")
	mypyBody := "src/models.py:10:5: error: Incompatible types in assignment  [assignment]\nFound 1 error in 1 file\n"
	require.NoError(t, os.WriteFile(mypyPath, []byte(mypyBody), 0o644))

	outPath := filepath.Join(dir, "out", "errors.json")

	out, err := execute(t, "logs", "--ruff", ruffPath, "--mypy", mypyPath, "-o", outPath)

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 error(s) to "+outPath)
	assert.Contains(t, out, "Breakdown:")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var errs []schemas.NormalizedError
	require.NoError(t, json.Unmarshal(data, &errs))
	require.Len(t, errs, 2)

	// Findings are sorted by file, then line.
	assert.Equal(t, "src/app.py", errs[0].FilePath)
	assert.Equal(t, 3, errs[0].LineNumber)
	assert.Equal(t, "F401", errs[0].RuleCode)
	assert.Equal(t, "src/models.py", errs[1].FilePath)
	assert.Equal(t, 10, errs[1].LineNumber)
	assert.Equal(t, schemas.BugTypeError, errs[1].BugType)
}

func TestLogsCmd_MissingReportTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "errors.json")

	out, err := execute(t, "logs", "--ruff", filepath.Join(dir, "missing.json"), "-o", outPath)

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 0 error(s)")

	// The output document is an empty array, never null.
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestLogsCmd_RequiresAtLeastOneReport(t *testing.T) {
	_, err := execute(t, "logs")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one report is required")
}
