package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileSet lazily reads repository files during one generation pass and
// caches the split lines, so the prompt builder and the rule layer share a
// single read per file.
type fileSet struct {
	root  string
	cache map[string]fileEntry
}

type fileEntry struct {
	lines []string
	ok    bool
}

func newFileSet(root string) *fileSet {
	return &fileSet{root: root, cache: make(map[string]fileEntry)}
}

// lines returns the file's content split into lines. Paths are
// repository-relative with forward slashes, the way the aggregator
// normalizes them. Unreadable files and paths escaping the repository
// report ok=false.
func (fs *fileSet) lines(rel string) ([]string, bool) {
	if e, hit := fs.cache[rel]; hit {
		return e.lines, e.ok
	}
	var entry fileEntry
	if abs, err := fs.resolve(rel); err == nil {
		if data, readErr := os.ReadFile(abs); readErr == nil {
			entry = fileEntry{lines: splitLines(string(data)), ok: true}
		}
	}
	fs.cache[rel] = entry
	return entry.lines, entry.ok
}

// resolve joins rel onto the repository root, refusing anything that
// resolves outside it. Tool output is not trusted to stay inside the tree.
func (fs *fileSet) resolve(rel string) (string, error) {
	abs := filepath.Join(fs.root, filepath.FromSlash(rel))
	back, err := filepath.Rel(fs.root, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	return abs, nil
}

// splitLines splits on newlines, dropping the trailing empty element a
// final newline produces and any carriage returns.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
