// Package sandbox shells out to the Python analysis toolchain (ruff, mypy,
// pytest) and turns the captured output into normalized findings. Tool
// failures are survivable: a missing binary or a timed-out run degrades to
// zero findings from that tool, never a crashed pass.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

// ExecResult captures one completed tool invocation.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Elapsed  time.Duration
	TimedOut bool
}

// Runner executes analysis commands with a per-command timeout and an
// optional wrapper argv (e.g. a container runtime prefix).
type Runner struct {
	cfg    config.SandboxConfig
	logger *zap.Logger
}

// NewRunner initializes a command runner.
func NewRunner(cfg config.SandboxConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("sandbox")}
}

// Run executes argv inside dir and captures its output. A run that exceeds
// the configured timeout is reported as exit code 1 with a synthesized
// "Timed out after Ns" stderr, matching how downstream consumers expect
// tool timeouts to look. Start failures (missing binary) are likewise folded
// into exit code 1 so callers only ever deal with an ExecResult.
func (r *Runner) Run(ctx context.Context, dir string, argv ...string) ExecResult {
	if len(r.cfg.WrapperArgv) > 0 {
		argv = append(append([]string{}, r.cfg.WrapperArgv...), argv...)
	}

	timeout := r.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := ExecResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Elapsed: elapsed}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = 1
		res.TimedOut = true
		res.Stderr = fmt.Appendf(nil, "Timed out after %ds", int(timeout.Seconds()))
		r.logger.Warn("Command timed out.",
			zap.String("command", argv[0]),
			zap.Duration("timeout", timeout))
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
			res.Stderr = []byte(err.Error())
			r.logger.Warn("Command failed to start.",
				zap.String("command", argv[0]),
				zap.Error(err))
		}
	}

	r.logger.Debug("Command finished.",
		zap.String("command", argv[0]),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", elapsed))
	return res
}
