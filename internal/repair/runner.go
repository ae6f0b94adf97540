// Package repair drives the iterative repair cycle: analyze the repository,
// generate fixes for what was found, apply them, then decide whether another
// pass is worth running. The loop terminates when the repository comes up
// clean, the iteration budget is spent, or two consecutive passes fail to
// reduce the error count.
package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/progress"
	"github.com/xkilldash9x/suture-cli/internal/results"
)

// Committer records applied fixes as commits on the derived run branch.
// Implementations are free to be no-ops; the loop only consults Count for
// the efficiency score.
type Committer interface {
	Begin(ctx context.Context, repoPath, branch string) error
	Commit(ctx context.Context, repoPath string, rec schemas.FixRecord) error
	Count() int
}

// Result pairs the persisted summary with loop internals that renderers want
// but the interchange document does not carry.
type Result struct {
	Summary           *schemas.RunSummary
	ErrorCountHistory []int
	Stagnated         bool
	// Records are the raw application records, code fields included, for
	// renderers that need more than the summary's report rows.
	Records []schemas.FixRecord
	// ResultsPath is where the summary document was written, empty when the
	// write failed.
	ResultsPath string
}

// Runner owns one repair run at a time. Every external collaborator comes in
// through the constructor; the zero value is not usable.
type Runner struct {
	analyzer  schemas.Analyzer
	generator schemas.FixGenerator
	applier   schemas.PatchApplier
	cleaner   schemas.AutoFixer
	committer Committer
	store     schemas.RunStore
	sink      schemas.ProgressSink
	cfg       config.RepairConfig
	logger    *zap.Logger
}

// Option configures optional collaborators on a Runner.
type Option func(*Runner)

// WithCleaner sets the post-apply lint cleanup pass.
func WithCleaner(c schemas.AutoFixer) Option { return func(r *Runner) { r.cleaner = c } }

// WithCommitter enables per-fix commits on the derived branch.
func WithCommitter(c Committer) Option { return func(r *Runner) { r.committer = c } }

// WithStore persists terminated run summaries.
func WithStore(s schemas.RunStore) Option { return func(r *Runner) { r.store = s } }

// WithSink streams progress events during the run.
func WithSink(s schemas.ProgressSink) Option { return func(r *Runner) { r.sink = s } }

func NewRunner(analyzer schemas.Analyzer, generator schemas.FixGenerator, applier schemas.PatchApplier, cfg config.RepairConfig, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if analyzer == nil {
		return nil, errors.New("repair: an analyzer is required")
	}
	if generator == nil {
		return nil, errors.New("repair: a fix generator is required")
	}
	if applier == nil {
		return nil, errors.New("repair: a patch applier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		analyzer:  analyzer,
		generator: generator,
		applier:   applier,
		sink:      progress.Discard{},
		cfg:       cfg,
		logger:    logger.Named("repair"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = progress.Discard{}
	}
	return r, nil
}

// Run executes one full repair run and returns its result. A first-iteration
// hard failure propagates with no result; once any iteration has completed,
// later failures degrade to a partial summary instead. Cancellation is
// honored at iteration boundaries only, never mid-apply.
func (r *Runner) Run(ctx context.Context, runID string, req schemas.RunRequest) (*Result, error) {
	started := time.Now()

	team := fallback(req.TeamName, r.cfg.TeamName, "TEAM")
	leader := fallback(req.LeaderName, r.cfg.LeaderName, "LEADER")
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = r.cfg.MaxIterations
	}

	log := r.logger.With(zap.String("run_id", runID), zap.String("repo", req.RepoPath))
	log.Info("repair run starting",
		zap.String("team", team),
		zap.String("leader", leader),
		zap.Int("max_iterations", maxIter))

	committer := r.committer
	if committer != nil {
		branch := results.BranchName(team, leader)
		if err := committer.Begin(ctx, req.RepoPath, branch); err != nil {
			log.Warn("git flow disabled for this run", zap.Error(err))
			committer = nil
		}
	}

	state := schemas.IterationState{CurrentIteration: 1, MaxIterations: maxIter}
	var (
		allFixes      []schemas.Fix
		records       []schemas.FixRecord
		totalDetected int
		stagnated     bool
		runErr        error
	)

loop:
	for {
		// The only abort point: between Verifying and the next Analyzing.
		if err := ctx.Err(); err != nil {
			if len(state.ErrorCountHistory) == 0 {
				return nil, err
			}
			log.Warn("run aborted at iteration boundary", zap.Error(err))
			runErr = err
			break
		}

		iter := state.CurrentIteration
		firstIteration := iter == 1

		// -- Analyzing --
		r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
			Phase:     "analyzing",
			Message:   fmt.Sprintf("Iteration %d/%d: Running analysis...", iter, maxIter),
			Iteration: iter,
		}))

		errs, err := r.analyzer.Analyze(ctx, req.RepoPath)
		if err != nil {
			if firstIteration {
				return nil, fmt.Errorf("analysis failed: %w", err)
			}
			log.Warn("analysis failed, finishing with partial results", zap.Error(err))
			runErr = err
			break
		}

		state.RecordErrorCount(len(errs))
		if len(errs) > totalDetected {
			totalDetected = len(errs)
		}
		log.Info("analysis pass complete",
			zap.Int("iteration", iter),
			zap.Int("errors", len(errs)),
			zap.Int("stagnant_count", state.StagnantCount))

		r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
			Phase:        "analyzed",
			Message:      fmt.Sprintf("Found %d error(s) in iteration %d", len(errs), iter),
			Iteration:    iter,
			ErrorsFound:  len(errs),
			ErrorDetails: errorDetails(errs),
		}))
		r.sink.Emit(schemas.IterationEvent(iter, len(errs)))

		if len(errs) == 0 {
			state.AllPassed = true
			r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
				Phase:   "generate_complete",
				Message: "No errors to fix - all tests passing!",
			}))
		} else {
			// -- Generating --
			r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
				Phase:   "generating",
				Message: fmt.Sprintf("Requesting model fixes for %d error(s)...", len(errs)),
			}))

			fixes, err := r.generator.Generate(ctx, schemas.GenerateRequest{
				RepoPath:          req.RepoPath,
				Errors:            errs,
				Iteration:         iter,
				SucceededBefore:   fixHistory(records, schemas.FixFixed),
				FailedBefore:      fixHistory(records, schemas.FixFailed),
				ErrorCountHistory: state.ErrorCountHistory,
			})
			if err != nil {
				if firstIteration {
					return nil, fmt.Errorf("fix generation failed: %w", err)
				}
				log.Warn("fix generation failed, finishing with partial results", zap.Error(err))
				runErr = err
				break
			}

			for _, fix := range fixes {
				r.sink.Emit(schemas.FixEvent(fix, schemas.FixPending))
			}
			allFixes = append(allFixes, fixes...)
			r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
				Phase:   "generated",
				Message: fmt.Sprintf("Model generated %d fix(es)", len(fixes)),
			}))

			// -- Applying --
			// Only the not-yet-attempted tail of the running fix list; the
			// record count tracks how far earlier iterations got.
			if pending := allFixes[len(records):]; len(pending) > 0 {
				r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
					Phase:   "applying",
					Message: fmt.Sprintf("Applying %d fix(es) to source files...", len(pending)),
				}))

				recs := r.applier.Apply(ctx, req.RepoPath, pending)
				applied := 0
				for _, rec := range recs {
					if rec.Status == schemas.FixFixed {
						applied++
						if committer != nil {
							if err := committer.Commit(ctx, req.RepoPath, rec); err != nil {
								log.Warn("commit failed", zap.String("file", rec.FilePath), zap.Error(err))
							}
						}
					}
					r.sink.Emit(schemas.FixEvent(rec.Fix, rec.Status))
				}
				records = append(records, recs...)

				r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
					Phase:   "applied",
					Message: fmt.Sprintf("Applied %d/%d fix(es) successfully", applied, len(pending)),
				}))

				if r.cleaner != nil {
					if n, err := r.cleaner.AutoFix(ctx, req.RepoPath); err != nil {
						log.Warn("post-apply cleanup failed", zap.Error(err))
					} else if n > 0 {
						log.Debug("post-apply cleanup", zap.Int("fixed", n))
					}
				}
			} else {
				log.Info("no new fixes to apply", zap.Int("iteration", iter))
			}
		}

		// -- Verifying --
		r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
			Phase:     "verifying",
			Message:   fmt.Sprintf("Iteration %d complete, preparing next cycle...", iter),
			Iteration: iter,
		}))
		state.CurrentIteration++

		switch {
		case state.AllPassed:
			break loop
		case state.Exhausted():
			log.Info("iteration budget reached", zap.Int("max_iterations", maxIter))
			break loop
		case state.Stagnated():
			stagnated = true
			log.Info("convergence stop: errors not improving", zap.Int("stagnant_count", state.StagnantCount))
			r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
				Phase:   "converged",
				Message: fmt.Sprintf("Stopping early: errors unchanged for %d consecutive iterations", state.StagnantCount),
			}))
			break loop
		}
	}

	return r.finish(runID, req.RepoPath, team, leader, state, records, totalDetected, committer, stagnated, started, runErr)
}

// finish composes, persists and reports the run summary. It runs even for
// partially failed runs so the outcome is never silently lost.
func (r *Runner) finish(runID, repoPath, team, leader string, state schemas.IterationState, records []schemas.FixRecord, totalDetected int, committer Committer, stagnated bool, started time.Time, runErr error) (*Result, error) {
	commits := 0
	for _, rec := range records {
		if rec.Status == schemas.FixFixed {
			commits++
		}
	}
	if committer != nil {
		commits = committer.Count()
	}

	summary := results.BuildSummary(results.RunInput{
		RepoPath:            repoPath,
		TeamName:            team,
		LeaderName:          leader,
		State:               state,
		Records:             records,
		TotalErrorsDetected: totalDetected,
		TotalCommits:        commits,
		StartedAt:           started,
		FinishedAt:          time.Now(),
	})

	res := &Result{
		Summary:           summary,
		ErrorCountHistory: state.ErrorCountHistory,
		Stagnated:         stagnated,
		Records:           records,
	}

	path, err := results.Write(repoPath, r.cfg.ResultsFile, summary)
	if err != nil {
		r.logger.Warn("could not write summary document", zap.Error(err))
		runErr = errors.Join(runErr, err)
	} else {
		res.ResultsPath = path
	}

	r.sink.Emit(schemas.PhaseEvent(schemas.PhaseData{
		Phase: "complete",
		Message: fmt.Sprintf("Agent complete: %s (%d/%d fixes)",
			summary.CIStatus, summary.Summary.TotalFixesApplied, len(records)),
		CIStatus: summary.CIStatus,
	}))
	r.sink.Emit(schemas.DoneEvent(summary))

	if r.store != nil {
		// The run context may already be cancelled; persistence gets its own
		// deadline so an aborted run is still recorded.
		storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.SaveSummary(storeCtx, runID, summary); err != nil {
			r.logger.Warn("could not persist run summary", zap.String("run_id", runID), zap.Error(err))
		}
	}

	r.logger.Info("repair run finished",
		zap.String("run_id", runID),
		zap.String("ci_status", summary.CIStatus),
		zap.Int("iterations_used", summary.IterationsUsed),
		zap.Int("fixes_applied", summary.Summary.TotalFixesApplied),
		zap.Int("fixes_failed", summary.Summary.TotalFixesFailed),
		zap.Float64("elapsed_seconds", summary.TotalTimeSeconds),
		zap.Int("score", summary.Score.Final))

	return res, runErr
}

func fixHistory(records []schemas.FixRecord, status schemas.FixStatus) []string {
	var out []string
	for _, rec := range records {
		if rec.Status == status {
			out = append(out, fmt.Sprintf("%s:%d - %s", rec.FilePath, rec.LineNumber, rec.FixDescription))
		}
	}
	return out
}

// errorDetails renders the first few errors for the analyzed event, enough
// for a dashboard to show context without flooding the stream.
func errorDetails(errs []schemas.NormalizedError) []string {
	const maxDetails = 10
	const maxMessage = 80

	out := make([]string, 0, min(len(errs), maxDetails))
	for i, e := range errs {
		if i == maxDetails {
			break
		}
		msg := e.RawMessage
		if r := []rune(msg); len(r) > maxMessage {
			msg = string(r[:maxMessage])
		}
		out = append(out, fmt.Sprintf("%s:%d %s", e.FilePath, e.LineNumber, msg))
	}
	return out
}

func fallback(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
