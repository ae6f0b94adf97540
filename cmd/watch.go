// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/watcher"
)

// newWatchCmd creates the `watch` command.
func newWatchCmd(app *appContext) *cobra.Command {
	var (
		logPath  string
		repoPath string
	)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail a CI log and repair the repository when it fails",
		Long: "Watch follows the CI log file and waits for failure signatures.\n" +
			"When a failure burst settles it runs one repair against the\n" +
			"configured repository, then cools down before re-triggering.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := app.cfg

			if logPath != "" {
				cfg.Watch.LogPath = logPath
			}
			if repoPath != "" {
				cfg.Watch.RepoPath = repoPath
			}

			trigger := func(ctx context.Context, reason string) error {
				req := schemas.RunRequest{
					RepoPath:   cfg.Watch.RepoPath,
					TeamName:   cfg.Repair.TeamName,
					LeaderName: cfg.Repair.LeaderName,
				}
				runID := uuid.New().String()
				logger.Info("Watch trigger fired",
					zap.String("run_id", runID),
					zap.String("reason", reason),
				)

				components, err := initializeRepairComponents(ctx, cfg, logger)
				if err != nil {
					if components != nil {
						components.Shutdown()
					}
					return fmt.Errorf("failed to initialize repair components: %w", err)
				}
				defer components.Shutdown()

				res, err := components.Runner.Run(ctx, runID, req)
				if err != nil {
					if res == nil {
						return err
					}
					logger.Warn("Triggered run finished with errors",
						zap.Error(err), zap.String("run_id", runID))
				}
				return nil
			}

			w, err := watcher.New(cfg.Watch, trigger, logger)
			if err != nil {
				return err
			}
			return w.Run(ctx)
		},
	}

	watchCmd.Flags().StringVar(&logPath, "log", "", "CI log file to tail (overrides config)")
	watchCmd.Flags().StringVar(&repoPath, "repo", "", "Repository to repair on failure (overrides config)")

	return watchCmd
}
