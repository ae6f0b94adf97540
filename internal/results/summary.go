// Package results derives the terminal artifacts of a repair run: the branch
// name, the score breakdown, the persisted summary document and its markdown
// renderings.
package results

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// BranchSuffix terminates every derived branch name.
const BranchSuffix = "_AI_Fix"

// Scoring constants. The formula is fixed by the competition rules, not
// tunable configuration.
const (
	baseScore        = 100
	speedBonusBound  = 300 * time.Second
	speedBonusPoints = 10
	commitThreshold  = 20
	perCommitPenalty = 2
)

var branchCleanRe = regexp.MustCompile(`[^A-Z0-9_]`)

// BranchName derives the deterministic run branch from the team and leader
// names: uppercase, spaces to underscores, every other character outside
// [A-Z0-9_] dropped, fixed suffix.
func BranchName(team, leader string) string {
	return branchToken(team) + "_" + branchToken(leader) + BranchSuffix
}

func branchToken(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(strings.ToUpper(s)), " ", "_")
	return branchCleanRe.ReplaceAllString(s, "")
}

// Score computes the run score: base 100, a speed bonus for finishing under
// five minutes, two points off per commit past the efficiency threshold,
// floored at zero.
func Score(elapsed time.Duration, totalCommits int) schemas.ScoreBreakdown {
	b := schemas.ScoreBreakdown{Base: baseScore}
	if elapsed < speedBonusBound {
		b.SpeedBonus = speedBonusPoints
	}
	if extra := totalCommits - commitThreshold; extra > 0 {
		b.EfficiencyPenalty = extra * perCommitPenalty
	}
	b.Final = b.Base + b.SpeedBonus - b.EfficiencyPenalty
	if b.Final < 0 {
		b.Final = 0
	}
	return b
}

// RunInput carries everything the summary builder needs from a finished loop.
type RunInput struct {
	RepoPath            string
	TeamName            string
	LeaderName          string
	State               schemas.IterationState
	Records             []schemas.FixRecord
	TotalErrorsDetected int
	// TotalCommits feeds the efficiency penalty. With the git flow enabled
	// this is the real commit count; otherwise callers pass the successful
	// fix count, since that is what would have been committed.
	TotalCommits int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// BuildSummary composes the immutable summary document for a terminated run.
func BuildSummary(in RunInput) *schemas.RunSummary {
	elapsed := in.FinishedAt.Sub(in.StartedAt)

	succeeded := 0
	reports := make([]schemas.FixReport, 0, len(in.Records))
	for _, r := range in.Records {
		if r.Status == schemas.FixFixed {
			succeeded++
		}
		reports = append(reports, r.Report())
	}

	ciStatus := schemas.CIFailed
	if in.State.AllPassed {
		ciStatus = schemas.CIPassed
	}

	return &schemas.RunSummary{
		Repository:       in.RepoPath,
		TeamName:         in.TeamName,
		LeaderName:       in.LeaderName,
		BranchName:       BranchName(in.TeamName, in.LeaderName),
		Timestamp:        in.FinishedAt.UTC(),
		TotalTimeSeconds: math.Round(elapsed.Seconds()*100) / 100,
		IterationsUsed:   in.State.IterationsUsed(),
		MaxIterations:    in.State.MaxIterations,
		AllTestsPassed:   in.State.AllPassed,
		CIStatus:         ciStatus,
		Summary: schemas.FixTotals{
			TotalFailuresDetected: in.TotalErrorsDetected,
			TotalFixesApplied:     succeeded,
			TotalFixesFailed:      len(in.Records) - succeeded,
		},
		Score:      Score(elapsed, in.TotalCommits),
		Fixes:      reports,
		CITimeline: timeline(in.State, in.FinishedAt),
	}
}

// timeline renders one dashboard row per completed iteration. Only the final
// row can be PASSED; every earlier iteration ran precisely because errors
// remained.
func timeline(st schemas.IterationState, at time.Time) []schemas.TimelineEntry {
	used := st.IterationsUsed()
	rows := make([]schemas.TimelineEntry, 0, used)
	for i := 1; i <= used; i++ {
		last := i == used
		status := schemas.CIFailed
		if last && st.AllPassed {
			status = schemas.CIPassed
		}

		var remaining *int
		if i <= len(st.ErrorCountHistory) {
			n := st.ErrorCountHistory[i-1]
			remaining = &n
		} else if last && st.AllPassed {
			zero := 0
			remaining = &zero
		}

		rows = append(rows, schemas.TimelineEntry{
			Iteration:       i,
			Status:          status,
			Timestamp:       at.UTC(),
			ErrorsRemaining: remaining,
		})
	}
	return rows
}
