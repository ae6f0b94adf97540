package strategy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/llmutil"
)

// systemPrompt pins the model to the one output shape the rest of the
// pipeline consumes: a bare JSON array of fix objects.
const systemPrompt = `You are an automated repair agent for Python repositories. You receive a batch of CI errors, each with surrounding file context, and you respond with the exact line edits that resolve them.

Respond with a JSON array of fix objects and nothing else. Each object has this shape:

[
  {
    "file_path": "src/utils.py",
    "line_number": 42,
    "bug_type": "SYNTAX",
    "fix_description": "Added missing colon after function definition",
    "original_code": "def calculate(x, y)",
    "fixed_code": "def calculate(x, y):",
    "commit_message": "[AI-AGENT] Fix SYNTAX error in src/utils.py"
  }
]

Rules:
- bug_type must be one of LINTING, SYNTAX, LOGIC, TYPE_ERROR, IMPORT, INDENTATION.
- commit_message must start with the literal prefix [AI-AGENT].
- original_code is the current content of the line being changed, exactly as shown in the file context (without the line number gutter).
- fixed_code is the complete replacement line including its leading indentation. An empty fixed_code deletes the line.
- Propose at most one fix per error. Skip errors you cannot fix confidently instead of guessing.
- Output only the JSON array. No markdown fences, no commentary.`

// llmLayer builds the prompt for one iteration, sends it through the
// provider chain and turns the response into validated fixes.
type llmLayer struct {
	client schemas.LLMClient
	cfg    config.RepairConfig
	logger *zap.Logger
}

// generate returns the model's validated fix batch. A provider error is
// returned to the engine, which degrades to the deterministic layers; an
// unparseable response is not an error, just an empty batch.
func (l *llmLayer) generate(ctx context.Context, req schemas.GenerateRequest, files *fileSet) ([]schemas.Fix, error) {
	raw, err := l.client.Generate(ctx, systemPrompt, l.buildUserPrompt(req, files))
	if err != nil {
		return nil, fmt.Errorf("model generation: %w", err)
	}

	batch := parseFixBatch(raw)
	if len(batch) == 0 && strings.TrimSpace(raw) != "" {
		l.logger.Warn("Model response contained no parseable fix array.",
			zap.String("provider", l.client.Name()),
			zap.Int("response_len", len(raw)))
	}

	fixes := make([]schemas.Fix, 0, len(batch))
	dropped := 0
	for _, f := range batch {
		normalizeFix(&f)
		if !validFix(f) {
			dropped++
			continue
		}
		fixes = append(fixes, f)
	}
	if dropped > 0 {
		l.logger.Warn("Dropped model fixes missing required fields.", zap.Int("dropped", dropped))
	}
	l.logger.Debug("Model proposed fixes.",
		zap.String("provider", l.client.Name()),
		zap.Int("count", len(fixes)))
	return fixes, nil
}

// parseFixBatch accepts the requested array form as well as a bare single
// fix object, tolerating markdown wrapping either way.
func parseFixBatch(raw string) []schemas.Fix {
	if batch, err := llmutil.ParseJSONResponse[[]schemas.Fix](raw); err == nil {
		return *batch
	}
	if single, err := llmutil.ParseJSONResponse[schemas.Fix](raw); err == nil && single.FilePath != "" {
		return []schemas.Fix{*single}
	}
	return nil
}

// normalizeFix coerces a candidate into the closed format: unknown bug
// types become LINTING, a missing commit prefix is synthesized, and code
// fields are stripped of markdown fences. Indentation inside the code
// fields is preserved untouched.
func normalizeFix(f *schemas.Fix) {
	if !f.BugType.Valid() {
		f.BugType = schemas.BugLinting
	}
	if !strings.HasPrefix(f.CommitMessage, schemas.CommitPrefix) {
		f.CommitMessage = fmt.Sprintf("%s Fix %s error in %s", schemas.CommitPrefix, f.BugType, f.FilePath)
	}
	f.OriginalCode = llmutil.CleanCodeOutput(f.OriginalCode)
	f.FixedCode = llmutil.CleanCodeOutput(f.FixedCode)
}

// validFix reports whether a normalized candidate carries every required
// field. Runs after normalizeFix, so the bug type and commit prefix checks
// only fail for candidates normalization could not rescue.
func validFix(f schemas.Fix) bool {
	return f.FilePath != "" &&
		f.LineNumber > 0 &&
		f.FixDescription != "" &&
		f.BugType.Valid() &&
		strings.HasPrefix(f.CommitMessage, schemas.CommitPrefix)
}

// buildUserPrompt renders the error batch: one section per error with the
// file context inline, then the history of earlier iterations so the model
// does not undo working fixes or repeat failed ones.
func (l *llmLayer) buildUserPrompt(req schemas.GenerateRequest, files *fileSet) string {
	var b strings.Builder
	b.WriteString("Fix the following errors. Output ONLY a JSON array of fixes.\n")

	fullListed := make(map[string]bool)
	for i, e := range req.Errors {
		fmt.Fprintf(&b, "\n--- Error %d ---\n", i+1)
		fmt.Fprintf(&b, "File: %s\n", e.FilePath)
		fmt.Fprintf(&b, "Line: %d\n", e.LineNumber)
		fmt.Fprintf(&b, "Type: %s\n", e.BugType)
		fmt.Fprintf(&b, "Message: %s\n", e.RawMessage)
		b.WriteString("\n")
		b.WriteString(l.fileContext(e, files, fullListed))
		b.WriteString("\n")
	}

	writeHistory(&b, req)
	return b.String()
}

// fileContext renders the numbered source listing for one error. Small
// files are listed once in full; larger files get a window around the
// error line. The failing line carries a >>> marker in the gutter.
func (l *llmLayer) fileContext(e schemas.NormalizedError, files *fileSet, fullListed map[string]bool) string {
	lines, ok := files.lines(e.FilePath)
	if !ok {
		return fmt.Sprintf("[File not found: %s]", e.FilePath)
	}

	var start, end int
	var header string
	if len(lines) < l.cfg.FullFileLineLimit && !fullListed[e.FilePath] {
		fullListed[e.FilePath] = true
		start, end = 0, len(lines)
		header = fmt.Sprintf("Full contents of %s:", e.FilePath)
	} else {
		start = e.LineNumber - l.cfg.ContextRadius - 1
		if start < 0 {
			start = 0
		}
		end = e.LineNumber + l.cfg.ContextRadius
		if end > len(lines) {
			end = len(lines)
		}
		header = fmt.Sprintf("File context around line %d:", e.LineNumber)
	}

	var b strings.Builder
	b.WriteString(header)
	for i := start; i < end; i++ {
		marker := "     "
		if i == e.LineNumber-1 {
			marker = " >>> "
		}
		fmt.Fprintf(&b, "\n%4d%s%s", i+1, marker, strings.TrimRight(lines[i], " \t"))
	}
	return b.String()
}

func writeHistory(b *strings.Builder, req schemas.GenerateRequest) {
	if req.Iteration > 0 {
		fmt.Fprintf(b, "\nIteration: %d\n", req.Iteration)
	}
	if len(req.ErrorCountHistory) > 0 {
		counts := make([]string, len(req.ErrorCountHistory))
		for i, n := range req.ErrorCountHistory {
			counts[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(b, "Error counts from previous analysis passes: %s\n", strings.Join(counts, ", "))
	}
	if len(req.SucceededBefore) > 0 {
		b.WriteString("\nFixes that already worked (do not undo them):\n")
		for _, s := range req.SucceededBefore {
			fmt.Fprintf(b, "- %s\n", s)
		}
	}
	if len(req.FailedBefore) > 0 {
		b.WriteString("\nFixes that failed to apply (take a different approach):\n")
		for _, s := range req.FailedBefore {
			fmt.Fprintf(b, "- %s\n", s)
		}
	}
}
