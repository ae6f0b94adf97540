// File: cmd/repair.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/gitops"
	"github.com/xkilldash9x/suture-cli/internal/llmclient"
	"github.com/xkilldash9x/suture-cli/internal/logs"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/patch"
	"github.com/xkilldash9x/suture-cli/internal/progress"
	"github.com/xkilldash9x/suture-cli/internal/repair"
	"github.com/xkilldash9x/suture-cli/internal/sandbox"
	"github.com/xkilldash9x/suture-cli/internal/store"
	"github.com/xkilldash9x/suture-cli/internal/strategy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newRepairCmd creates and configures the `repair` command.
func newRepairCmd(app *appContext) *cobra.Command {
	var configJSON string

	repairCmd := &cobra.Command{
		Use:   "repair [repo-path] [team-name] [leader-name] [max-iterations]",
		Short: "Run the repair loop against a failing Python repository",
		Long: "Repair analyzes the repository, generates fixes, applies them and\n" +
			"re-runs the checks until they pass or the iteration budget is spent.\n" +
			"The run identity comes from the positional arguments or --config-json.",
		Args: cobra.MaximumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := app.cfg

			req, err := resolveRunRequest(args, configJSON)
			if err != nil {
				return err
			}
			applyRunOverrides(cfg, req)
			if cmd.Flags().Changed("emit-progress") {
				v, _ := cmd.Flags().GetBool("emit-progress")
				cfg.Repair.EmitProgress = v
			}

			runID := uuid.New().String()
			logger.Info("Starting repair run",
				zap.String("run_id", runID),
				zap.String("repo", req.RepoPath),
				zap.String("team", cfg.Repair.TeamName),
				zap.String("leader", cfg.Repair.LeaderName),
				zap.Int("max_iterations", cfg.Repair.MaxIterations),
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
					if errors.Is(err, context.Canceled) {
						// Keep the Canceled chain intact so main exits 0.
						logger.Warn("Repair run aborted by user signal", zap.String("run_id", runID))
						return err
					}
					logger.Error("Repair run failed", zap.Error(err), zap.String("run_id", runID))
					return err
				}
				// A degraded run still produced a summary; report it and exit 0.
				logger.Warn("Repair run finished with errors", zap.Error(err), zap.String("run_id", runID))
			}

			printRunOutcome(cmd, res)

			if shouldOpenPR(cfg, res) {
				prURL, err := openPullRequest(ctx, cfg.Git.GitHub, res, logger)
				if err != nil {
					logger.Warn("Could not open pull request", zap.Error(err))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  pull request: %s\n", prURL)
				}
			}
			return nil
		},
	}

	repairCmd.Flags().StringVar(&configJSON, "config-json", "",
		"JSON file with {repo_path, team_name, leader_name, max_iterations}; replaces the positional arguments")
	repairCmd.Flags().Bool("emit-progress", false,
		"Stream progress events to stdout as JSON lines (overrides config)")

	return repairCmd
}

// resolveRunRequest builds the run request from the positional arguments or
// the --config-json file and verifies the repository exists.
func resolveRunRequest(args []string, configJSON string) (schemas.RunRequest, error) {
	var req schemas.RunRequest
	if configJSON != "" {
		loaded, err := config.LoadRunRequest(configJSON, 0)
		if err != nil {
			return req, err
		}
		req = loaded
	} else {
		if len(args) == 0 {
			return req, errors.New("a repository path is required (positional argument or --config-json)")
		}
		req.RepoPath = args[0]
		if len(args) > 1 {
			req.TeamName = args[1]
		}
		if len(args) > 2 {
			req.LeaderName = args[2]
		}
		if len(args) > 3 {
			n, err := strconv.Atoi(args[3])
			if err != nil || n <= 0 {
				return req, fmt.Errorf("invalid max-iterations %q: must be a positive integer", args[3])
			}
			req.MaxIterations = n
		}
	}

	if info, err := os.Stat(req.RepoPath); err != nil || !info.IsDir() {
		return req, fmt.Errorf("invalid repo_path: %s", req.RepoPath)
	}
	return req, nil
}

// applyRunOverrides folds request identity into the config so every component
// logs and reports the same names.
func applyRunOverrides(cfg *config.Config, req schemas.RunRequest) {
	if req.TeamName != "" {
		cfg.Repair.TeamName = req.TeamName
	}
	if req.LeaderName != "" {
		cfg.Repair.LeaderName = req.LeaderName
	}
	if req.MaxIterations > 0 {
		cfg.Repair.MaxIterations = req.MaxIterations
	}
}

// repairComponents holds the initialized services of one repair run.
type repairComponents struct {
	Runner  *repair.Runner
	Emitter *progress.Emitter
	DBPool  *pgxpool.Pool
}

// Shutdown flushes the progress stream and closes the database pool.
func (rc *repairComponents) Shutdown() {
	if rc.Emitter != nil {
		rc.Emitter.Stop()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRepairComponents handles dependency injection for one run. Extra
// options let callers append pre-built collaborators, such as the server's
// shared run store.
func initializeRepairComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, extra ...repair.Option) (*repairComponents, error) {
	components := &repairComponents{}

	// 1. Analysis toolchain
	sandboxRunner := sandbox.NewRunner(cfg.Sandbox, logger)
	aggregator := logs.NewAggregator(logger)
	analyzer, err := sandbox.NewAnalyzer(sandboxRunner, aggregator, cfg.Sandbox, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize analyzer: %w", err)
	}

	// 2. Fix generation
	llmClient, err := llmclient.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	generator, err := strategy.NewEngine(llmClient, analyzer, cfg.Repair, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize fix engine: %w", err)
	}

	// 3. Patch application
	applier := patch.NewApplier(logger)

	opts := []repair.Option{repair.WithCleaner(analyzer)}

	// 4. Progress stream
	if cfg.Repair.EmitProgress {
		emitter := progress.NewEmitter(os.Stdout, 0, logger)
		emitter.Start(ctx)
		components.Emitter = emitter
		opts = append(opts, repair.WithSink(emitter))
	}

	// 5. Git flow
	if cfg.Git.Enabled {
		opts = append(opts, repair.WithCommitter(gitops.NewCommitter(cfg.Git, logger)))
	}

	// 6. Run history store
	if cfg.Store.Enabled {
		if cfg.Store.DSN == "" {
			return components, errors.New("store is enabled but store.dsn is not configured (SUTURE_STORE_DSN)")
		}
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = pool
		runStore, err := store.New(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize run store: %w", err)
		}
		if err := runStore.Migrate(ctx); err != nil {
			return components, fmt.Errorf("failed to migrate run store schema: %w", err)
		}
		opts = append(opts, repair.WithStore(runStore))
	}

	opts = append(opts, extra...)

	runner, err := repair.NewRunner(analyzer, generator, applier, cfg.Repair, logger, opts...)
	if err != nil {
		return components, fmt.Errorf("failed to create repair runner: %w", err)
	}
	components.Runner = runner
	return components, nil
}

// printRunOutcome writes the human-readable closing lines after a run.
func printRunOutcome(cmd *cobra.Command, res *repair.Result) {
	if res == nil || res.Summary == nil {
		return
	}
	s := res.Summary
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRepair complete: %s\n", s.CIStatus)
	fmt.Fprintf(out, "  iterations: %d/%d\n", s.IterationsUsed, s.MaxIterations)
	fmt.Fprintf(out, "  fixes:      %d applied, %d failed (of %d detected)\n",
		s.Summary.TotalFixesApplied, s.Summary.TotalFixesFailed, s.Summary.TotalFailuresDetected)
	fmt.Fprintf(out, "  score:      %d\n", s.Score.Final)
	if res.ResultsPath != "" {
		fmt.Fprintf(out, "  results:    %s\n", res.ResultsPath)
	}
}

func shouldOpenPR(cfg *config.Config, res *repair.Result) bool {
	return cfg.Git.Enabled && cfg.Git.GitHub.OpenPR &&
		res != nil && res.Summary != nil && res.Summary.Summary.TotalFixesApplied > 0
}

func openPullRequest(ctx context.Context, cfg config.GitHubConfig, res *repair.Result, logger *zap.Logger) (string, error) {
	client := gitops.NewGitHubClient(cfg.Token)
	creator, err := gitops.NewPRCreator(client, cfg, logger)
	if err != nil {
		return "", err
	}
	return creator.Open(ctx, res)
}
