// Package schemas defines the shared data model and component contracts for the
// repair pipeline. Every record that crosses a package boundary (findings, fixes,
// run state, progress events) lives here so the internal packages stay decoupled.
package schemas

import (
	"fmt"
	"time"
)

// BugType is the closed classification tag attached to every normalized error
// and every fix. Values outside this set are rejected during validation.
type BugType string

const (
	BugLinting     BugType = "LINTING"
	BugSyntax      BugType = "SYNTAX"
	BugLogic       BugType = "LOGIC"
	BugTypeError   BugType = "TYPE_ERROR"
	BugImport      BugType = "IMPORT"
	BugIndentation BugType = "INDENTATION"
)

// validBugTypes is the membership set backing BugType.Valid.
var validBugTypes = map[BugType]struct{}{
	BugLinting:     {},
	BugSyntax:      {},
	BugLogic:       {},
	BugTypeError:   {},
	BugImport:      {},
	BugIndentation: {},
}

// Valid reports whether b is a member of the closed bug-type set.
func (b BugType) Valid() bool {
	_, ok := validBugTypes[b]
	return ok
}

// FindingSource identifies which analysis tool produced a raw finding.
type FindingSource string

const (
	SourceLinter      FindingSource = "linter"
	SourceTypeChecker FindingSource = "type_checker"
	SourceTestRunner  FindingSource = "test_runner"
)

// CommitPrefix is the literal tag every agent-authored commit message carries.
// The fix validator synthesizes it when a model response omits it.
const CommitPrefix = "[AI-AGENT]"

// RawFinding is one diagnostic as reported by an analysis tool, before
// classification. It is ephemeral: the aggregator consumes it immediately.
type RawFinding struct {
	Source   FindingSource `json:"source"`
	File     string        `json:"file"`
	Line     int           `json:"line"`
	Message  string        `json:"message"`
	RuleCode string        `json:"rule_code,omitempty"`
}

// NormalizedError is a classified, validated finding. The JSON field names
// match the errors.json interchange format consumed by the repair loop.
type NormalizedError struct {
	FilePath   string  `json:"file"`
	LineNumber int     `json:"line"`
	BugType    BugType `json:"bug_type"`
	RawMessage string  `json:"message"`
	RuleCode   string  `json:"rule_code,omitempty"`
}

// ErrorKey is the aggregator's deduplication key.
type ErrorKey struct {
	Path string
	Line int
	Bug  BugType
}

// Key returns the (file, line, bug_type) deduplication key for e.
func (e NormalizedError) Key() ErrorKey {
	return ErrorKey{Path: e.FilePath, Line: e.LineNumber, Bug: e.BugType}
}

// PromptLine renders e the way error batches are presented to the model.
func (e NormalizedError) PromptLine() string {
	return fmt.Sprintf("[%s] %s line %d: %s", e.BugType, e.FilePath, e.LineNumber, e.RawMessage)
}

// FileLine is the (file, line) coverage key used when merging fix strategies:
// at most one fix survives per FileLine, in strategy-priority order.
type FileLine struct {
	Path string
	Line int
}

// Fix is one proposed, validated source edit at a specific file and line.
// The JSON field names match the array-of-objects format the model is asked
// to produce.
type Fix struct {
	FilePath       string  `json:"file_path"`
	LineNumber     int     `json:"line_number"`
	BugType        BugType `json:"bug_type"`
	FixDescription string  `json:"fix_description"`
	OriginalCode   string  `json:"original_code"`
	FixedCode      string  `json:"fixed_code"`
	CommitMessage  string  `json:"commit_message"`

	// AlreadyApplied marks fixes reported by the linter auto-fix layer, which
	// mutates files itself. The patch applier records these without touching
	// the file again.
	AlreadyApplied bool `json:"-"`
}

// Location returns the (file, line) coverage key for f.
func (f Fix) Location() FileLine {
	return FileLine{Path: f.FilePath, Line: f.LineNumber}
}

// ResultString renders the canonical one-line description of a fix used in
// progress events and run summaries.
func (f Fix) ResultString() string {
	return fmt.Sprintf("%s error in %s line %d -> Fix: %s", f.BugType, f.FilePath, f.LineNumber, f.FixDescription)
}

// FixStatus is the lifecycle state of a fix: pending until the applier
// attempts it, then fixed or failed forever.
type FixStatus string

const (
	FixPending FixStatus = "pending"
	FixFixed   FixStatus = "fixed"
	FixFailed  FixStatus = "failed"
)

// FixRecord is a Fix plus its application outcome. Records are immutable once
// appended to a run's result list.
type FixRecord struct {
	Fix
	Status FixStatus `json:"status"`
	// Detail carries the failure reason for failed records, empty otherwise.
	Detail string `json:"detail,omitempty"`
}

// FixReport is the dashboard-shaped rendering of a FixRecord used in the
// persisted summary document. Field names here are part of the results.json
// interchange format and differ from the model-facing Fix tags.
type FixReport struct {
	File           string    `json:"file"`
	BugType        BugType   `json:"bug_type"`
	LineNumber     int       `json:"line_number"`
	CommitMessage  string    `json:"commit_message"`
	Status         FixStatus `json:"status"`
	Description    string    `json:"description"`
	FixDescription string    `json:"fix_description"`
}

// Report converts an application record into its summary-document form.
func (r FixRecord) Report() FixReport {
	return FixReport{
		File:           r.FilePath,
		BugType:        r.BugType,
		LineNumber:     r.LineNumber,
		CommitMessage:  r.CommitMessage,
		Status:         r.Status,
		Description:    r.ResultString(),
		FixDescription: r.FixDescription,
	}
}

// IterationState is the repair loop's bookkeeping. It is owned exclusively by
// the loop controller and mutated only at iteration boundaries.
type IterationState struct {
	CurrentIteration  int
	MaxIterations     int
	ErrorCountHistory []int
	StagnantCount     int
	AllPassed         bool
}

// RecordErrorCount appends the latest analysis pass's error count and updates
// the stagnation counter: a count greater than or equal to the previous one
// increments it, an improvement resets it.
func (s *IterationState) RecordErrorCount(n int) {
	if len(s.ErrorCountHistory) > 0 && n >= s.ErrorCountHistory[len(s.ErrorCountHistory)-1] {
		s.StagnantCount++
	} else {
		s.StagnantCount = 0
	}
	s.ErrorCountHistory = append(s.ErrorCountHistory, n)
}

// Stagnated reports whether two or more consecutive passes failed to improve.
func (s *IterationState) Stagnated() bool {
	return s.StagnantCount >= 2
}

// Exhausted reports whether the iteration bound has been reached.
func (s *IterationState) Exhausted() bool {
	return s.CurrentIteration >= s.MaxIterations
}

// IterationsUsed converts the post-loop iteration counter into the number of
// completed iterations. The counter is incremented before termination is
// decided, so one is subtracted, with a floor of one for runs that terminate
// on their first pass.
func (s *IterationState) IterationsUsed() int {
	used := s.CurrentIteration - 1
	if used < 1 {
		return 1
	}
	return used
}

// ScoreBreakdown itemizes the run score: base 100, +10 when the run finished
// under the speed-bonus threshold, -2 per commit beyond the efficiency
// threshold, floored at zero.
type ScoreBreakdown struct {
	Base              int `json:"base_score"`
	SpeedBonus        int `json:"speed_bonus"`
	EfficiencyPenalty int `json:"efficiency_penalty"`
	Final             int `json:"final_score"`
}

// FixTotals aggregates per-run fix counts for the summary document.
type FixTotals struct {
	TotalFailuresDetected int `json:"total_failures_detected"`
	TotalFixesApplied     int `json:"total_fixes_applied"`
	TotalFixesFailed      int `json:"total_fixes_failed"`
}

// TimelineEntry is one dashboard row of the per-iteration CI timeline.
// ErrorsRemaining is nil when no analysis pass recorded a count for the
// iteration.
type TimelineEntry struct {
	Iteration       int       `json:"iteration"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	ErrorsRemaining *int      `json:"errors_remaining"`
}

// CI status strings used in summaries and timeline entries.
const (
	CIPassed = "PASSED"
	CIFailed = "FAILED"
)

// RunSummary is the immutable aggregate built once when a repair run
// terminates. It is the document persisted to results.json.
type RunSummary struct {
	Repository       string          `json:"repository"`
	TeamName         string          `json:"team_name"`
	LeaderName       string          `json:"leader_name"`
	BranchName       string          `json:"branch_name"`
	Timestamp        time.Time       `json:"timestamp"`
	TotalTimeSeconds float64         `json:"total_time_seconds"`
	IterationsUsed   int             `json:"iterations_used"`
	MaxIterations    int             `json:"max_iterations"`
	AllTestsPassed   bool            `json:"all_tests_passed"`
	CIStatus         string          `json:"ci_status"`
	Summary          FixTotals       `json:"summary"`
	Score            ScoreBreakdown  `json:"score"`
	Fixes            []FixReport     `json:"fixes"`
	CITimeline       []TimelineEntry `json:"ci_timeline"`
}

// RunRequest is the input contract of the trigger surfaces: which repository
// to repair, who is running it, and the iteration bound.
type RunRequest struct {
	RepoPath      string `json:"repo_path"`
	TeamName      string `json:"team_name"`
	LeaderName    string `json:"leader_name"`
	MaxIterations int    `json:"max_iterations"`
}
