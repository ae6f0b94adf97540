package schemas

import "context"

// -- Text Generation --

// LLMClient is the single capability interface every text-generation provider
// satisfies. New providers register by implementing it; the fallback chain
// iterates a configured ordered list rather than hard-coding dispatch.
//
// Generate must distinguish transient failures (rate limits, network blips,
// retryable server errors) from permanent ones so callers can decide between
// retrying and falling through to the next provider.
type LLMClient interface {
	// Generate sends the prompt pair and returns the raw model text.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Name identifies the provider for logs and error messages.
	Name() string
}

// -- Analysis --

// Analyzer runs the configured analysis tools against a repository and
// returns the aggregated, classified, deduplicated error list. A clean
// repository yields an empty slice, not an error.
type Analyzer interface {
	Analyze(ctx context.Context, repoPath string) ([]NormalizedError, error)
}

// AutoFixer exposes the linting tool's native auto-fix capability. It returns
// the number of issues the tool reports as fixed.
type AutoFixer interface {
	AutoFix(ctx context.Context, repoPath string) (int, error)
}

// -- Fix Generation --

// GenerateRequest is the strategy engine's input for one iteration: the
// current error batch plus the history context the model uses to avoid
// repeating failed approaches.
type GenerateRequest struct {
	RepoPath          string
	Errors            []NormalizedError
	Iteration         int
	SucceededBefore   []string
	FailedBefore      []string
	ErrorCountHistory []int
}

// FixGenerator produces a candidate patch set for one iteration's errors.
// An empty result for a nonempty error batch is a valid "could not fix
// anything this iteration" outcome, not an error.
type FixGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) ([]Fix, error)
}

// -- Patch Application --

// PatchApplier applies fixes in input order, never letting one failure abort
// its siblings. Every input fix is accounted for in the returned records.
type PatchApplier interface {
	Apply(ctx context.Context, repoPath string, fixes []Fix) []FixRecord
}

// -- Run Output --

// ProgressSink receives progress events during a run. Implementations must
// not block the repair loop.
type ProgressSink interface {
	Emit(event Event)
}

// RunStore persists run summaries for later retrieval, keyed by run ID.
type RunStore interface {
	SaveSummary(ctx context.Context, runID string, summary *RunSummary) error
	GetSummary(ctx context.Context, runID string) (*RunSummary, error)
}
