package strategy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ruleFixes runs the rule layer against a single-error batch over the given
// repository.
func ruleFixes(t *testing.T, repo string, e schemas.NormalizedError) []schemas.Fix {
	t.Helper()
	layer := &ruleLayer{logger: zap.NewNop()}
	return layer.generate(context.Background(), schemas.GenerateRequest{
		RepoPath: repo,
		Errors:   []schemas.NormalizedError{e},
	}, newFileSet(repo), map[schemas.FileLine]bool{})
}

func lintErr(file string, line int, code, message string) schemas.NormalizedError {
	return schemas.NormalizedError{
		FilePath:   file,
		LineNumber: line,
		BugType:    schemas.BugLinting,
		RawMessage: message,
		RuleCode:   code,
	}
}

func TestRuleSingleLineRewrites(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		code    string
		message string
		line    string
		want    string
	}{
		{
			name:    "unused import deletes the line",
			code:    "F401",
			message: "`os` imported but unused",
			line:    "import os",
			want:    "",
		},
		{
			name:    "unused import keeps siblings",
			code:    "F401",
			message: "`os` imported but unused",
			line:    "import os, sys",
			want:    "import sys",
		},
		{
			name:    "unused from-import matches qualified name",
			code:    "F401",
			message: "`typing.List` imported but unused",
			line:    "from typing import List, Optional",
			want:    "from typing import Optional",
		},
		{
			name:    "unused aliased import deletes the line",
			code:    "F401",
			message: "`numpy` imported but unused",
			line:    "import numpy as np",
			want:    "",
		},
		{
			name:    "unused variable gets underscore prefix",
			code:    "F841",
			message: "Local variable `result` is assigned to but never used",
			line:    "    result = compute()",
			want:    "    _result = compute()",
		},
		{
			name:    "f-string without placeholders loses prefix",
			code:    "F541",
			message: "f-string without any placeholders",
			line:    `print(f"hello world")`,
			want:    `print("hello world")`,
		},
		{
			name:    "equality with None becomes identity",
			code:    "E711",
			message: "Comparison to `None` should be `cond is None`",
			line:    "if x == None:",
			want:    "if x is None:",
		},
		{
			name:    "inequality with None becomes negated identity",
			code:    "E711",
			message: "Comparison to `None` should be `cond is not None`",
			line:    "if x != None:",
			want:    "if x is not None:",
		},
		{
			name:    "spaceless None comparison keeps a space",
			code:    "E711",
			message: "Comparison to `None` should be `cond is None`",
			line:    "if x==None:",
			want:    "if x is None:",
		},
		{
			name:    "comparison to True becomes truthiness",
			code:    "E712",
			message: "Avoid equality comparisons to `True`",
			line:    "if flag == True:",
			want:    "if flag:",
		},
		{
			name:    "comparison to False becomes negation",
			code:    "E712",
			message: "Avoid equality comparisons to `False`",
			line:    "while ready == False:",
			want:    "while not ready:",
		},
		{
			name:    "subscript inequality with True",
			code:    "E712",
			message: "Avoid inequality comparisons to `True`",
			line:    "if checks[0] != True:",
			want:    "if not checks[0]:",
		},
		{
			name:    "type equality becomes isinstance",
			code:    "E721",
			message: "Do not compare types, for exact checks use `is`",
			line:    "if type(a) == int:",
			want:    "if isinstance(a, int):",
		},
		{
			name:    "type to type comparison",
			code:    "E721",
			message: "Do not compare types, for exact checks use `is`",
			line:    "if type(a) == type(b):",
			want:    "if isinstance(a, type(b)):",
		},
		{
			name:    "trailing whitespace stripped",
			code:    "W291",
			message: "Trailing whitespace",
			line:    "x = 1   ",
			want:    "x = 1",
		},
		{
			name:    "whitespace-only line removed",
			code:    "W293",
			message: "Whitespace on blank line",
			line:    "    ",
			want:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := writeRepo(t, "-- mod.py --\n"+tc.line+"\n")
			fixes := ruleFixes(t, repo, lintErr("mod.py", 1, tc.code, tc.message))

			require.Len(t, fixes, 1)
			f := fixes[0]
			assert.Equal(t, tc.want, f.FixedCode)
			assert.Equal(t, tc.line, f.OriginalCode)
			assert.Equal(t, "mod.py", f.FilePath)
			assert.Equal(t, 1, f.LineNumber)
			assert.True(t, strings.HasPrefix(f.CommitMessage, schemas.CommitPrefix))
			assert.NotEmpty(t, f.FixDescription)
		})
	}
}

func TestRuleBlankLineDeletion(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, `
-- mod.py --
def a():
    return 1



def b():
    return 2
`)
	// Reported on the second def, three blank lines above it.
	fixes := ruleFixes(t, repo, lintErr("mod.py", 6, "E303", "Too many blank lines (3)"))

	require.Len(t, fixes, 1)
	f := fixes[0]
	assert.Equal(t, 5, f.LineNumber, "targets the blank line above the statement")
	assert.Empty(t, f.FixedCode)
	assert.Empty(t, strings.TrimSpace(f.OriginalCode))
}

func TestRuleSkipsWhatItCannotFix(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, "-- mod.py --\nx = 1\n")

	t.Run("no rule code", func(t *testing.T) {
		t.Parallel()
		e := lintErr("mod.py", 1, "", "something")
		assert.Empty(t, ruleFixes(t, repo, e))
	})

	t.Run("code without a catalogue entry", func(t *testing.T) {
		t.Parallel()
		e := lintErr("mod.py", 1, "E501", "Line too long (120 > 88)")
		assert.Empty(t, ruleFixes(t, repo, e))
	})

	t.Run("line out of range", func(t *testing.T) {
		t.Parallel()
		e := lintErr("mod.py", 99, "W291", "Trailing whitespace")
		assert.Empty(t, ruleFixes(t, repo, e))
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		e := lintErr("gone.py", 1, "W291", "Trailing whitespace")
		assert.Empty(t, ruleFixes(t, repo, e))
	})

	t.Run("line already clean", func(t *testing.T) {
		t.Parallel()
		e := lintErr("mod.py", 1, "W291", "Trailing whitespace")
		assert.Empty(t, ruleFixes(t, repo, e))
	})

	t.Run("multiline parenthesized import", func(t *testing.T) {
		t.Parallel()
		multi := writeRepo(t, "-- big.py --\nfrom typing import (\n    List,\n    Optional,\n)\n")
		e := lintErr("big.py", 1, "F401", "`typing.List` imported but unused")
		assert.Empty(t, ruleFixes(t, multi, e))
	})
}

func TestRuleHonorsCoverage(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, "-- mod.py --\nimport os\n")
	layer := &ruleLayer{logger: zap.NewNop()}
	e := lintErr("mod.py", 1, "F401", "`os` imported but unused")

	fixes := layer.generate(context.Background(), schemas.GenerateRequest{
		RepoPath: repo,
		Errors:   []schemas.NormalizedError{e},
	}, newFileSet(repo), map[schemas.FileLine]bool{
		{Path: "mod.py", Line: 1}: true,
	})
	assert.Empty(t, fixes, "covered keys belong to the higher-priority layer")
}

func TestRuleAmbiguousNameRename(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, `
-- mod.py --
PREFIX = "x"

def joined(items):
    l = []
    for item in items:
        l.append(item)
    return ", ".join(l)

def other():
    return PREFIX
`)
	fixes := ruleFixes(t, repo, schemas.NormalizedError{
		FilePath:   "mod.py",
		LineNumber: 4,
		BugType:    schemas.BugLinting,
		RawMessage: "Ambiguous variable name: `l`",
		RuleCode:   "E741",
	})

	require.Len(t, fixes, 3, "one fix per line referencing the name")
	assert.Equal(t, "    l_ = []", fixes[0].FixedCode)
	assert.Equal(t, 4, fixes[0].LineNumber)
	assert.Equal(t, "        l_.append(item)", fixes[1].FixedCode)
	assert.Equal(t, 6, fixes[1].LineNumber)
	assert.Equal(t, `    return ", ".join(l_)`, fixes[2].FixedCode)
	assert.Equal(t, 7, fixes[2].LineNumber)

	for _, f := range fixes {
		assert.LessOrEqual(t, f.LineNumber, 8, "rename stays inside the enclosing def")
	}
}

func TestRuleAmbiguousRenameAvoidsCollision(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, `
-- mod.py --
def f(l):
    l_ = 1
    return l + l_
`)
	fixes := ruleFixes(t, repo, schemas.NormalizedError{
		FilePath:   "mod.py",
		LineNumber: 1,
		BugType:    schemas.BugLinting,
		RawMessage: "Ambiguous variable name: `l`",
		RuleCode:   "E741",
	})

	require.NotEmpty(t, fixes)
	assert.Equal(t, "def f(l__):", fixes[0].FixedCode, "skips the name already taken in scope")
}

func TestRuleUndefinedNameSuggestion(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, `
-- mod.py --
def total(items):
    result = 0
    for item in items:
        result += item
    return reslut
`)
	fixes := ruleFixes(t, repo, schemas.NormalizedError{
		FilePath:   "mod.py",
		LineNumber: 5,
		BugType:    schemas.BugLinting,
		RawMessage: "Undefined name `reslut`",
		RuleCode:   "F821",
	})

	require.Len(t, fixes, 1)
	assert.Equal(t, "    return result", fixes[0].FixedCode)
	assert.Equal(t, 5, fixes[0].LineNumber)
	assert.Contains(t, fixes[0].FixDescription, "reslut")
	assert.Contains(t, fixes[0].FixDescription, "result")
}

func TestRuleUndefinedNameNoPlausibleCandidate(t *testing.T) {
	t.Parallel()

	repo := writeRepo(t, `
-- mod.py --
def run():
    return zzzzzz
`)
	fixes := ruleFixes(t, repo, schemas.NormalizedError{
		FilePath:   "mod.py",
		LineNumber: 2,
		BugType:    schemas.BugLinting,
		RawMessage: "Undefined name `zzzzzz`",
		RuleCode:   "F821",
	})
	assert.Empty(t, fixes, "no suggestion beats no fix")
}
