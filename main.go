// File: main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/suture-cli/cmd"
	"github.com/xkilldash9x/suture-cli/internal/observability"
)

// main is the entry point for the suture CLI.
func main() {
	// Listen for SIGINT/SIGTERM so in-flight iterations can finish and the
	// results document still gets written before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		// A run aborted by the user's own signal is a clean exit.
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
