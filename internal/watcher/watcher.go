// File: internal/watcher/watcher.go

// Package watcher tails a CI log file and starts a repair run whenever a
// burst of failure lines appears.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

// defaultPatterns cover the usual CI failure signatures when the config does
// not name its own. Configured patterns are regular expressions too.
var defaultPatterns = []string{
	`FAILED`,
	`Traceback \(most recent call last\)`,
	`exit (?:status|code) [1-9]`,
}

// TriggerFunc starts one repair run and blocks until it finishes. The watcher
// calls it from its own loop, so two runs never mutate the same repository at
// once.
type TriggerFunc func(ctx context.Context, reason string) error

// Watcher follows the CI log and coalesces failure lines into repair runs. A
// burst opens on the first matching line and extends while matches keep
// arriving; the trigger fires once the log has been quiet for the settle
// delay. After a run, matches inside the cooldown window are suppressed.
type Watcher struct {
	cfg      config.WatchConfig
	trigger  TriggerFunc
	log      *zap.Logger
	patterns []*regexp.Regexp

	mu         sync.Mutex
	triggered  int
	suppressed int
}

func New(cfg config.WatchConfig, trigger TriggerFunc, logger *zap.Logger) (*Watcher, error) {
	if trigger == nil {
		return nil, errors.New("watcher: a trigger is required")
	}
	if cfg.LogPath == "" {
		return nil, errors.New("watcher: watch.log_path must be configured")
	}
	if cfg.RepoPath == "" {
		return nil, errors.New("watcher: watch.repo_path must be configured")
	}
	raw := cfg.FailurePatterns
	if len(raw) == 0 {
		raw = defaultPatterns
	}
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid failure pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:      cfg,
		trigger:  trigger,
		log:      logger.Named("watcher"),
		patterns: patterns,
	}, nil
}

// Run tails the configured log file until ctx is cancelled. Lines written
// before Run starts are never replayed; only new failures trigger.
func (w *Watcher) Run(ctx context.Context) error {
	t, err := tail.TailFile(w.cfg.LogPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail CI log %s: %w", w.cfg.LogPath, err)
	}
	defer func() {
		t.Stop()
		t.Cleanup()
	}()

	w.log.Info("Watching CI log",
		zap.String("log", w.cfg.LogPath),
		zap.String("repo", w.cfg.RepoPath),
		zap.Duration("cooldown", w.cooldown()),
		zap.Duration("settle_delay", w.settleDelay()),
	)
	w.loop(ctx, t.Lines)
	return nil
}

// Stats reports how many runs were started and how many failure lines the
// cooldown window suppressed.
func (w *Watcher) Stats() (triggered, suppressed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggered, w.suppressed
}

func (w *Watcher) loop(ctx context.Context, lines <-chan *tail.Line) {
	settle := time.NewTimer(0)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	var (
		reason    string
		burstSize int
		lastRun   time.Time
	)

	fire := func() {
		w.log.Info("CI failure burst settled, starting repair run",
			zap.Int("matched_lines", burstSize),
			zap.String("reason", reason),
		)
		if err := w.trigger(ctx, reason); err != nil {
			w.log.Error("Triggered repair run failed", zap.Error(err))
		}
		lastRun = time.Now()
		reason = ""
		burstSize = 0
		w.mu.Lock()
		w.triggered++
		w.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			if burstSize > 0 {
				w.log.Info("Discarding unsettled failure burst on shutdown",
					zap.Int("matched_lines", burstSize))
			}
			w.log.Info("Stopping CI log watcher")
			return

		case line, ok := <-lines:
			if !ok {
				w.log.Info("CI log tailer channel closed")
				return
			}
			if line.Err != nil {
				w.log.Warn("Error reading CI log", zap.Error(line.Err))
				continue
			}
			if !w.matches(line.Text) {
				continue
			}
			if !lastRun.IsZero() && time.Since(lastRun) < w.cooldown() {
				w.mu.Lock()
				w.suppressed++
				w.mu.Unlock()
				w.log.Debug("Failure line inside cooldown window, ignoring",
					zap.String("line", clip(line.Text)))
				continue
			}
			if burstSize == 0 {
				reason = clip(line.Text)
			}
			burstSize++
			// Each new failure extends the burst until the log settles.
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(w.settleDelay())

		case <-settle.C:
			if burstSize > 0 {
				fire()
			}
		}
	}
}

func (w *Watcher) matches(line string) bool {
	for _, re := range w.patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func (w *Watcher) cooldown() time.Duration {
	if w.cfg.Cooldown > 0 {
		return w.cfg.Cooldown
	}
	return 5 * time.Minute
}

func (w *Watcher) settleDelay() time.Duration {
	if w.cfg.SettleDelay > 0 {
		return w.cfg.SettleDelay
	}
	return 2 * time.Second
}

func clip(line string) string {
	line = strings.TrimSpace(line)
	const max = 160
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}
