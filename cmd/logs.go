// File: cmd/logs.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/logs"
	"github.com/xkilldash9x/suture-cli/internal/observability"
)

// newLogsCmd creates the `logs` command: offline aggregation of raw analysis
// reports into the normalized errors.json document.
func newLogsCmd(app *appContext) *cobra.Command {
	var (
		ruffPath   string
		mypyPath   string
		pytestPath string
		junitPath  string
		outputPath string
	)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Aggregate raw analysis reports into errors.json",
		Long: "Logs parses the outputs of ruff (JSON), mypy (text) and pytest\n" +
			"(JSON report or JUnit XML), deduplicates and classifies the findings,\n" +
			"and writes the normalized error list sorted by file and line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if ruffPath == "" && mypyPath == "" && pytestPath == "" && junitPath == "" {
				return errors.New("at least one report is required (--ruff, --mypy, --pytest or --junit)")
			}

			in := logs.Inputs{
				RuffJSON:   readReport(ruffPath, logger),
				MypyText:   readReport(mypyPath, logger),
				PytestJSON: readReport(pytestPath, logger),
				JUnitXML:   readReport(junitPath, logger),
			}

			aggregated := logs.NewAggregator(logger).Aggregate(ctx, in)

			if err := writeErrorsFile(outputPath, aggregated); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d error(s) to %s\n", len(aggregated), outputPath)
			if breakdown := countByType(aggregated); breakdown != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Breakdown: %s\n", breakdown)
			}
			return nil
		},
	}

	logsCmd.Flags().StringVar(&ruffPath, "ruff", "", "Path to the ruff JSON output")
	logsCmd.Flags().StringVar(&mypyPath, "mypy", "", "Path to the mypy text output")
	logsCmd.Flags().StringVar(&pytestPath, "pytest", "", "Path to the pytest JSON report")
	logsCmd.Flags().StringVar(&junitPath, "junit", "", "Path to a JUnit XML report")
	logsCmd.Flags().StringVarP(&outputPath, "output", "o", "errors.json", "Path to write the normalized error list")

	return logsCmd
}

// readReport tolerates missing files: an absent report contributes nothing,
// the same way a clean tool run leaves no findings.
func readReport(path string, logger *zap.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Could not read report, treating as empty", zap.String("path", path), zap.Error(err))
		return nil
	}
	return data
}

func writeErrorsFile(path string, errs []schemas.NormalizedError) error {
	if errs == nil {
		errs = []schemas.NormalizedError{}
	}
	data, err := json.MarshalIndent(errs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode error list: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func countByType(errs []schemas.NormalizedError) string {
	counts := make(map[schemas.BugType]int)
	for _, e := range errs {
		counts[e.BugType]++
	}
	out := ""
	for _, t := range []schemas.BugType{
		schemas.BugSyntax, schemas.BugImport, schemas.BugIndentation,
		schemas.BugTypeError, schemas.BugLinting, schemas.BugLogic,
	} {
		if counts[t] == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%s=%d", t, counts[t])
	}
	return out
}
