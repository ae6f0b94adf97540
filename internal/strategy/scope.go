package strategy

import (
	"context"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var defLineRe = regexp.MustCompile(`^\s*(?:async\s+)?def\s`)

// resolveScope returns the half-open 0-based line range of the function
// enclosing lineNo: backward to the nearest def at lower-or-equal
// indentation, forward to the first non-blank line back at or below the
// def's own indentation. Lines with no enclosing def get the whole file.
//
// Nested defs at identical indentation can fool the backward walk; the
// containment check below catches the degenerate case where the resolved
// scope closed before the target line.
func resolveScope(lines []string, lineNo int) (int, int) {
	idx := lineNo - 1
	if idx < 0 || idx >= len(lines) {
		return 0, len(lines)
	}

	target := indentWidth(lines[idx])
	defIdx := -1
	for i := idx; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentWidth(lines[i]) <= target && defLineRe.MatchString(lines[i]) {
			defIdx = i
			break
		}
	}
	if defIdx == -1 {
		return 0, len(lines)
	}

	defIndent := indentWidth(lines[defIdx])
	end := len(lines)
	for i := defIdx + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if indentWidth(lines[i]) <= defIndent {
			end = i
			break
		}
	}

	if idx >= end {
		return 0, len(lines)
	}
	return defIdx, end
}

func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

// dedentBlock strips the scope's base indentation from every line so a
// nested function body parses as a top-level snippet.
func dedentBlock(lines []string) string {
	var prefix string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		prefix = l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		break
	}
	if prefix == "" {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = strings.TrimPrefix(l, prefix)
	}
	return strings.Join(out, "\n")
}

// harvestIdentifiers parses src as Python and collects every identifier
// token. The sources being repaired are broken by definition, so parse
// errors are tolerated: tree-sitter still tokenizes what it can, and an
// identifier pulled from a partial parse is exactly as useful here.
func harvestIdentifiers(ctx context.Context, src []byte) map[string]struct{} {
	if len(src) == 0 {
		return nil
	}
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	idents := make(map[string]struct{})
	collectIdentifiers(tree.RootNode(), src, idents)
	return idents
}

func collectIdentifiers(node *sitter.Node, src []byte, out map[string]struct{}) {
	if node == nil {
		return
	}
	if node.Type() == "identifier" {
		out[node.Content(src)] = struct{}{}
		return
	}

	cursor := sitter.NewTreeCursor(node)
	defer cursor.Close()
	if ok := cursor.GoToFirstChild(); ok {
		for {
			collectIdentifiers(cursor.CurrentNode(), src, out)
			if ok := cursor.GoToNextSibling(); !ok {
				break
			}
		}
	}
}

// closestIdentifier picks the scope identifier most plausibly intended
// instead of name: smallest edit distance wins, accepting distances of at
// most two, or containment for names of three or more characters. Ties
// break lexicographically so repeated runs suggest the same name.
func closestIdentifier(name string, candidates map[string]struct{}) (string, bool) {
	best := ""
	bestDist := -1
	for c := range candidates {
		if c == name || len(c) < 2 {
			continue
		}
		d := levenshtein(name, c)
		accept := d <= 2 && d < len(name)
		if !accept && len(name) >= 3 && (strings.Contains(c, name) || strings.Contains(name, c)) {
			accept = true
		}
		if !accept {
			continue
		}
		if bestDist == -1 || d < bestDist || (d == bestDist && c < best) {
			best, bestDist = c, d
		}
	}
	return best, bestDist != -1
}

// levenshtein computes edit distance with the classic two-row dynamic
// program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
