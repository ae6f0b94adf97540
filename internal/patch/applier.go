// Package patch applies validated fixes to source files with line-level
// surgery. The contract is deliberately textual, not syntactic: a fix names a
// file, a line, the text it expects to find there, and the text to put in its
// place. When the expectation does not hold the fix fails and the file is left
// alone. One bad fix never blocks the rest of its batch.
package patch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ErrOriginalMismatch reports that a fix's original_code no longer matches the
// file content at the stated line. The file has drifted since the fix was
// generated, usually because an earlier fix or the linter's auto-fix pass
// touched it.
var ErrOriginalMismatch = errors.New("original code does not match file content")

// Applier is the line-surgery implementation of schemas.PatchApplier.
type Applier struct {
	logger *zap.Logger
}

var _ schemas.PatchApplier = (*Applier)(nil)

func NewApplier(logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{logger: logger.Named("patch")}
}

// Apply attempts every fix in input order and returns one record per fix.
// The batch always runs to completion: interrupting between writes would leave
// edited files with no record saying so, which is worse than finishing late.
// Cancellation is the loop controller's job, at iteration boundaries.
func (a *Applier) Apply(_ context.Context, repoPath string, fixes []schemas.Fix) []schemas.FixRecord {
	records := make([]schemas.FixRecord, 0, len(fixes))
	applied := 0

	for _, fix := range fixes {
		rec := schemas.FixRecord{Fix: fix, Status: schemas.FixFixed}

		switch err := a.applyOne(repoPath, fix); {
		case err == nil:
			applied++
			a.logger.Debug("fix applied",
				zap.String("file", fix.FilePath),
				zap.Int("line", fix.LineNumber),
				zap.String("bug_type", string(fix.BugType)))
		default:
			rec.Status = schemas.FixFailed
			rec.Detail = err.Error()
			a.logger.Warn("fix failed to apply",
				zap.String("file", fix.FilePath),
				zap.Int("line", fix.LineNumber),
				zap.Error(err))
		}
		records = append(records, rec)
	}

	a.logger.Info("patch batch complete",
		zap.Int("applied", applied),
		zap.Int("failed", len(fixes)-applied))
	return records
}

func (a *Applier) applyOne(repoPath string, fix schemas.Fix) error {
	// The auto-fix layer already mutated the file; the record is all that is
	// still owed.
	if fix.AlreadyApplied {
		return nil
	}
	if fix.LineNumber <= 0 {
		return fmt.Errorf("line number %d out of range", fix.LineNumber)
	}

	path, err := resolveInRepo(repoPath, fix.FilePath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", fix.FilePath, err)
	}

	lines, trailingNL := splitKeepEndings(string(data))
	idx := fix.LineNumber - 1

	switch {
	case idx < len(lines):
		current := lines[idx]
		if fix.OriginalCode != "" && strings.TrimSpace(current) != strings.TrimSpace(fix.OriginalCode) {
			return fmt.Errorf("%w at %s:%d (found %q)", ErrOriginalMismatch, fix.FilePath, fix.LineNumber, strings.TrimSpace(current))
		}
		if fix.FixedCode == "" {
			lines = append(lines[:idx], lines[idx+1:]...)
		} else {
			lines[idx] = fix.FixedCode
		}
	case fix.FixedCode != "":
		// Fresh content past the end of the file goes on a new last line.
		lines = append(lines, fix.FixedCode)
	default:
		return fmt.Errorf("cannot delete line %d: %s has only %d lines", fix.LineNumber, fix.FilePath, len(lines))
	}

	return writeLines(path, lines, trailingNL)
}

// splitKeepEndings splits file content into lines without their "\n"
// terminators. Carriage returns are left in place so untouched lines survive a
// rewrite byte for byte. The second return reports whether the file ended with
// a newline.
func splitKeepEndings(content string) ([]string, bool) {
	if content == "" {
		return nil, true
	}
	trailingNL := strings.HasSuffix(content, "\n")
	if trailingNL {
		content = content[:len(content)-1]
	}
	return strings.Split(content, "\n"), trailingNL
}

func writeLines(path string, lines []string, trailingNL bool) error {
	var mode os.FileMode = 0o644
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	out := strings.Join(lines, "\n")
	if trailingNL && len(lines) > 0 {
		out += "\n"
	}
	if err := os.WriteFile(path, []byte(out), mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// resolveInRepo joins rel onto the repository root and rejects paths that
// escape it. Fix paths come from tool output and model output, neither of
// which is trusted to stay inside the tree.
func resolveInRepo(repoPath, rel string) (string, error) {
	abs := filepath.Join(repoPath, filepath.FromSlash(rel))
	back, err := filepath.Rel(repoPath, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	return abs, nil
}
