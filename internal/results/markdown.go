package results

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// displayCap bounds the fix table so a pathological run cannot flood a PR body.
const displayCap = 30

// Markdown renders the summary as a GitHub-flavoured section for PR bodies
// and terminal reports.
func Markdown(s *schemas.RunSummary, stagnated bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**Iterations:** %d\n", s.IterationsUsed)
	fmt.Fprintf(&b, "**Errors detected:** %d\n", s.Summary.TotalFailuresDetected)
	fmt.Fprintf(&b, "**Fixes:** %d applied, %d failed\n", s.Summary.TotalFixesApplied, s.Summary.TotalFixesFailed)
	if stagnated {
		b.WriteString(":warning: **Stagnation detected** - agent stopped early.\n")
	}
	fmt.Fprintf(&b, "**Time:** %.1fs\n", s.TotalTimeSeconds)
	b.WriteString("\n")

	if len(s.Fixes) > 0 {
		b.WriteString("| File | Line | Type | Status | Description |\n")
		b.WriteString("|------|------|------|--------|-------------|\n")
		for i, f := range s.Fixes {
			if i == displayCap {
				break
			}
			icon := ":x:"
			if f.Status == schemas.FixFixed {
				icon = ":white_check_mark:"
			}
			fmt.Fprintf(&b, "| `%s` | %d | %s | %s | %s |\n",
				f.File, f.LineNumber, f.BugType, icon, truncate(f.FixDescription, 60))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// DiffSuggestions renders successful fixes as GitHub suggestion blocks. Fixes
// without code context fall back to a plain description line.
func DiffSuggestions(records []schemas.FixRecord) string {
	var blocks []string
	for _, r := range records {
		if r.Status != schemas.FixFixed {
			continue
		}
		if r.OriginalCode == "" && r.FixedCode == "" {
			blocks = append(blocks, fmt.Sprintf("**`%s` L%d** - %s\n", r.FilePath, r.LineNumber, r.FixDescription))
			continue
		}

		original := r.OriginalCode
		if original == "" {
			original = "(line removed)"
		}
		fixed := r.FixedCode
		if fixed == "" {
			fixed = "(line removed)"
		}
		blocks = append(blocks, fmt.Sprintf("**`%s` L%d** - %s\n```diff\n- %s\n+ %s\n```\n",
			r.FilePath, r.LineNumber, r.FixDescription, original, fixed))
	}

	if len(blocks) == 0 {
		return "_No actionable fixes generated._"
	}
	return strings.Join(blocks, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
