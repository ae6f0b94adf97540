package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ruleLayer proposes deterministic single-line rewrites for the lint codes
// that have mechanical fixes. It only considers errors the model layer left
// uncovered, and only linter findings carry the rule codes it dispatches on.
type ruleLayer struct {
	logger *zap.Logger
}

func (r *ruleLayer) generate(ctx context.Context, req schemas.GenerateRequest, files *fileSet, covered map[schemas.FileLine]bool) []schemas.Fix {
	var fixes []schemas.Fix
	for _, e := range req.Errors {
		if ctx.Err() != nil {
			return fixes
		}
		if e.RuleCode == "" || covered[schemas.FileLine{Path: e.FilePath, Line: e.LineNumber}] {
			continue
		}
		proposed := r.fixesFor(ctx, e, files)
		if len(proposed) > 0 {
			r.logger.Debug("Rule produced fixes.",
				zap.String("code", e.RuleCode),
				zap.String("file", e.FilePath),
				zap.Int("line", e.LineNumber),
				zap.Int("count", len(proposed)))
			fixes = append(fixes, proposed...)
		}
	}
	return fixes
}

func (r *ruleLayer) fixesFor(ctx context.Context, e schemas.NormalizedError, files *fileSet) []schemas.Fix {
	lines, ok := files.lines(e.FilePath)
	if !ok {
		return nil
	}
	idx := e.LineNumber - 1
	if idx < 0 || idx >= len(lines) {
		return nil
	}
	line := lines[idx]

	switch e.RuleCode {
	case "F401":
		if fixed, ok := removeImportedName(line, backtickName(e.RawMessage)); ok {
			desc := "Removed unused import"
			if fixed != "" {
				desc = fmt.Sprintf("Removed unused name %q from import", backtickName(e.RawMessage))
			}
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed, desc)}
		}
	case "F841":
		name := backtickName(e.RawMessage)
		if fixed, ok := prefixUnderscore(line, name); ok {
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed,
				fmt.Sprintf("Renamed unused variable %q to %q", name, "_"+name))}
		}
	case "F541":
		if fixed, ok := stripFPrefix(line); ok {
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed,
				"Removed extraneous f prefix from string without placeholders")}
		}
	case "E711":
		if fixed, ok := rewriteNoneComparison(line); ok {
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed,
				"Replaced equality comparison to None with identity check")}
		}
	case "E712":
		if fixed, ok := rewriteBoolComparison(line); ok {
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed,
				"Replaced equality comparison to a boolean with a truthiness check")}
		}
	case "E721":
		if fixed, ok := rewriteTypeComparison(line); ok {
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed,
				"Replaced type equality comparison with isinstance")}
		}
	case "E303":
		if blankLine, original, ok := blankAbove(e, lines); ok {
			return []schemas.Fix{newLineFix(e, blankLine, original, "",
				"Removed excess blank line")}
		}
	case "W291", "W293":
		fixed := strings.TrimRight(line, " \t")
		if fixed != line {
			desc := "Stripped trailing whitespace"
			if fixed == "" {
				desc = "Removed whitespace-only blank line"
			}
			return []schemas.Fix{newLineFix(e, e.LineNumber, line, fixed, desc)}
		}
	case "E741":
		return r.renameAmbiguous(e, lines)
	case "F821":
		return r.suggestUndefined(ctx, e, lines)
	}
	return nil
}

// newLineFix builds a fully-populated fix for a rule rewrite. The fix may
// target a different line than the error (E303 deletes above the reported
// statement), so the line number is explicit.
func newLineFix(e schemas.NormalizedError, lineNo int, original, fixed, desc string) schemas.Fix {
	return schemas.Fix{
		FilePath:       e.FilePath,
		LineNumber:     lineNo,
		BugType:        e.BugType,
		FixDescription: desc,
		OriginalCode:   original,
		FixedCode:      fixed,
		CommitMessage:  fmt.Sprintf("%s Fix %s error in %s", schemas.CommitPrefix, e.BugType, e.FilePath),
	}
}

// backtickRe pulls the quoted subject out of ruff messages like
// "`os` imported but unused" or "Ambiguous variable name: `l`".
var backtickRe = regexp.MustCompile("\x60([^\x60]+)\x60")

func backtickName(message string) string {
	m := backtickRe.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return m[1]
}

var (
	importLineRe     = regexp.MustCompile(`^(\s*)import\s+(.+?)\s*$`)
	fromImportLineRe = regexp.MustCompile(`^(\s*)from\s+(\S+)\s+import\s+(.+?)\s*$`)
)

// removeImportedName drops name from an import statement. A statement left
// with no names collapses to the empty string, which the applier treats as
// a line deletion. Multi-line parenthesized imports are left to the model.
func removeImportedName(line, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if m := fromImportLineRe.FindStringSubmatch(line); m != nil {
		kept, removed := filterImportEntries(m[3], name)
		if !removed {
			return "", false
		}
		if len(kept) == 0 {
			return "", true
		}
		return m[1] + "from " + m[2] + " import " + strings.Join(kept, ", "), true
	}
	if m := importLineRe.FindStringSubmatch(line); m != nil {
		kept, removed := filterImportEntries(m[2], name)
		if !removed {
			return "", false
		}
		if len(kept) == 0 {
			return "", true
		}
		return m[1] + "import " + strings.Join(kept, ", "), true
	}
	return "", false
}

// filterImportEntries removes the entry binding name from a comma-separated
// import list. The first match wins; duplicate bindings are their own
// diagnostic.
func filterImportEntries(list, name string) ([]string, bool) {
	removed := false
	var kept []string
	for _, entry := range strings.Split(list, ",") {
		entry = strings.Trim(entry, " \t()")
		if entry == "" {
			continue
		}
		if !removed && importEntryBinds(entry, name) {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	return kept, removed
}

// importEntryBinds reports whether one import entry is the subject of an
// unused-import message. Ruff names the qualified module path, so
// "from os import path" is reported as os.path while the entry is just
// path; the trailing-component comparison covers that shape.
func importEntryBinds(entry, name string) bool {
	module := entry
	alias := ""
	if i := strings.Index(entry, " as "); i >= 0 {
		module = strings.TrimSpace(entry[:i])
		alias = strings.TrimSpace(entry[i+len(" as "):])
	}
	return entry == name || module == name || alias == name ||
		strings.HasSuffix(name, "."+module) || (alias != "" && strings.HasSuffix(name, "."+alias))
}

// prefixUnderscore renames the assigned-but-unused variable to its
// underscore-prefixed form, keeping the right-hand side and its side
// effects. Only the first occurrence on the line is the binding.
func prefixUnderscore(line, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	re, err := wordRe(name)
	if err != nil {
		return "", false
	}
	replaced := false
	out := re.ReplaceAllStringFunc(line, func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		return "_" + m
	})
	if !replaced || out == line {
		return "", false
	}
	return out, true
}

var (
	emptyFStringDouble = regexp.MustCompile(`\bf"([^"{}]*)"`)
	emptyFStringSingle = regexp.MustCompile(`\bf'([^'{}]*)'`)
)

// stripFPrefix removes the f prefix from f-strings that contain no
// placeholders.
func stripFPrefix(line string) (string, bool) {
	out := emptyFStringDouble.ReplaceAllString(line, `"$1"`)
	out = emptyFStringSingle.ReplaceAllString(out, `'$1'`)
	if out == line {
		return "", false
	}
	return out, true
}

var (
	eqNoneRe = regexp.MustCompile(`\s*==\s*None\b`)
	neNoneRe = regexp.MustCompile(`\s*!=\s*None\b`)
)

func rewriteNoneComparison(line string) (string, bool) {
	out := eqNoneRe.ReplaceAllString(line, " is None")
	out = neNoneRe.ReplaceAllString(out, " is not None")
	if out == line {
		return "", false
	}
	return out, true
}

var (
	// A simple left operand: dotted name, optional subscript or bare call.
	operandEqFalseRe = regexp.MustCompile(`([A-Za-z_][\w.]*(?:\[[^\]]*\])?(?:\(\))?)\s*==\s*False\b`)
	operandNeTrueRe  = regexp.MustCompile(`([A-Za-z_][\w.]*(?:\[[^\]]*\])?(?:\(\))?)\s*!=\s*True\b`)
	eqTrueRe         = regexp.MustCompile(`\s*==\s*True\b`)
	neFalseRe        = regexp.MustCompile(`\s*!=\s*False\b`)
	eqFalseRe        = regexp.MustCompile(`\s*==\s*False\b`)
	neTrueRe         = regexp.MustCompile(`\s*!=\s*True\b`)
)

// rewriteBoolComparison converts equality comparisons against booleans to
// truthiness checks: "x == True" becomes "x", "x == False" becomes
// "not x". A False comparison whose left operand is too complex to capture
// falls back to the identity operator, which still satisfies the linter.
func rewriteBoolComparison(line string) (string, bool) {
	out := operandEqFalseRe.ReplaceAllString(line, "not $1")
	out = operandNeTrueRe.ReplaceAllString(out, "not $1")
	out = eqTrueRe.ReplaceAllString(out, "")
	out = neFalseRe.ReplaceAllString(out, "")
	out = eqFalseRe.ReplaceAllString(out, " is False")
	out = neTrueRe.ReplaceAllString(out, " is not True")
	if out == line {
		return "", false
	}
	return out, true
}

var (
	typeEqTypeRe = regexp.MustCompile(`\btype\(([^()]+)\)\s*==\s*type\(([^()]+)\)`)
	typeEqRe     = regexp.MustCompile(`\btype\(([^()]+)\)\s*==\s*([A-Za-z_][\w.]*)`)
)

func rewriteTypeComparison(line string) (string, bool) {
	out := typeEqTypeRe.ReplaceAllString(line, "isinstance($1, type($2))")
	out = typeEqRe.ReplaceAllString(out, "isinstance($1, $2)")
	if out == line {
		return "", false
	}
	return out, true
}

// blankAbove locates the blank line immediately above the statement E303
// is reported on. One deletion per pass; if more blank lines remain the
// next analysis round reports the statement again and the loop converges.
func blankAbove(e schemas.NormalizedError, lines []string) (int, string, bool) {
	idx := e.LineNumber - 2
	if idx < 0 || idx >= len(lines) {
		return 0, "", false
	}
	if strings.TrimSpace(lines[idx]) != "" {
		return 0, "", false
	}
	return idx + 1, lines[idx], true
}

// renameAmbiguous rewrites every occurrence of an ambiguous single-letter
// name inside its enclosing scope to an underscore-suffixed form, one fix
// per affected line so the applier's per-line contract holds.
func (r *ruleLayer) renameAmbiguous(e schemas.NormalizedError, lines []string) []schemas.Fix {
	name := backtickName(e.RawMessage)
	if name == "" {
		return nil
	}
	start, end := resolveScope(lines, e.LineNumber)
	newName := replacementName(name, lines[start:end])
	re, err := wordRe(name)
	if err != nil {
		return nil
	}

	var fixes []schemas.Fix
	for i := start; i < end; i++ {
		out := re.ReplaceAllString(lines[i], newName)
		if out == lines[i] {
			continue
		}
		fixes = append(fixes, newLineFix(e, i+1, lines[i], out,
			fmt.Sprintf("Renamed ambiguous variable %q to %q", name, newName)))
	}
	return fixes
}

// suggestUndefined resolves an undefined-name error by scanning the
// enclosing scope for the identifier most plausibly intended and rewriting
// the reference on the failing line.
func (r *ruleLayer) suggestUndefined(ctx context.Context, e schemas.NormalizedError, lines []string) []schemas.Fix {
	name := backtickName(e.RawMessage)
	if name == "" {
		return nil
	}
	start, end := resolveScope(lines, e.LineNumber)
	idents := harvestIdentifiers(ctx, []byte(dedentBlock(lines[start:end])))
	suggestion, ok := closestIdentifier(name, idents)
	if !ok {
		return nil
	}

	idx := e.LineNumber - 1
	re, err := wordRe(name)
	if err != nil {
		return nil
	}
	out := re.ReplaceAllString(lines[idx], suggestion)
	if out == lines[idx] {
		return nil
	}
	return []schemas.Fix{newLineFix(e, e.LineNumber, lines[idx], out,
		fmt.Sprintf("Replaced undefined name %q with %q", name, suggestion))}
}

func wordRe(name string) (*regexp.Regexp, error) {
	return regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
}

// replacementName appends underscores until the candidate collides with
// nothing in the scope.
func replacementName(name string, scope []string) string {
	candidate := name + "_"
	for {
		re, err := wordRe(candidate)
		if err != nil {
			return candidate
		}
		clash := false
		for _, l := range scope {
			if re.MatchString(l) {
				clash = true
				break
			}
		}
		if !clash {
			return candidate
		}
		candidate += "_"
	}
}
