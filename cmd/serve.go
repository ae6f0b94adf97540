// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/httpapi"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/repair"
	"github.com/xkilldash9x/suture-cli/internal/store"
)

// newServeCmd creates the `serve` command.
func newServeCmd(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the repair API over HTTP",
		Long: "Serve exposes repair runs over HTTP: POST /api/v1/runs starts a run\n" +
			"in the background, GET /api/v1/runs/{id} reports progress and\n" +
			"GET /api/v1/runs/{id}/summary returns the final document.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := app.cfg

			runner := &serveRunner{cfg: cfg, log: logger}

			// One database pool serves every run this process executes.
			if cfg.Store.Enabled {
				if cfg.Store.DSN == "" {
					return errors.New("store is enabled but store.dsn is not configured (SUTURE_STORE_DSN)")
				}
				pool, err := pgxpool.New(ctx, cfg.Store.DSN)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer pool.Close()
				runStore, err := store.New(ctx, pool, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize run store: %w", err)
				}
				if err := runStore.Migrate(ctx); err != nil {
					return fmt.Errorf("failed to migrate run store schema: %w", err)
				}
				runner.store = runStore
			}

			srv, err := httpapi.NewServer(cfg.Server, runner, logger)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}

// serveRunner builds a fresh component stack per request so concurrent runs
// never share mutable state; only the read-only config and the store are
// shared.
type serveRunner struct {
	cfg   *config.Config
	log   *zap.Logger
	store schemas.RunStore
}

func (sr *serveRunner) Run(ctx context.Context, runID string, req schemas.RunRequest) (*repair.Result, error) {
	cfg := *sr.cfg
	applyRunOverrides(&cfg, req)
	// The stdout progress stream and the per-run store pool are CLI
	// concerns; the server keeps stdout quiet and shares one store.
	cfg.Repair.EmitProgress = false
	cfg.Store.Enabled = false

	var extra []repair.Option
	if sr.store != nil {
		extra = append(extra, repair.WithStore(sr.store))
	}

	components, err := initializeRepairComponents(ctx, &cfg, sr.log, extra...)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return nil, fmt.Errorf("failed to initialize repair components: %w", err)
	}
	defer components.Shutdown()

	return components.Runner.Run(ctx, runID, req)
}
