// Package classify maps raw tool findings onto the closed bug-type taxonomy.
// Classification is total: every finding gets a type, defaulting to LINTING
// when no heuristic matches.
package classify

import (
	"strings"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ruffCodeMap pins the linter rule codes whose classification is exact,
// ahead of the prefix heuristics.
var ruffCodeMap = map[string]schemas.BugType{
	// Hard parse failures.
	"E999": schemas.BugSyntax,

	// Import hygiene.
	"F401": schemas.BugImport,
	"F811": schemas.BugImport,
	"I001": schemas.BugImport,
	"I002": schemas.BugImport,
	"E401": schemas.BugImport,
	"E402": schemas.BugImport,

	// Indentation family.
	"E101": schemas.BugIndentation,
	"E111": schemas.BugIndentation,
	"E112": schemas.BugIndentation,
	"E113": schemas.BugIndentation,
	"E114": schemas.BugIndentation,
	"E115": schemas.BugIndentation,
	"E116": schemas.BugIndentation,
	"E117": schemas.BugIndentation,
	"W191": schemas.BugIndentation,

	// Style issues that stay plain LINTING even though their prefixes
	// overlap the families above.
	"F841": schemas.BugLinting,
	"E501": schemas.BugLinting,
	"E711": schemas.BugLinting,
	"E712": schemas.BugLinting,
	"W291": schemas.BugLinting,
	"W292": schemas.BugLinting,
	"W293": schemas.BugLinting,
}

// Classify returns the bug type for one raw finding. Dispatch is by source;
// each chain is ordered so the more specific match wins (an import-flavored
// test failure classifies as IMPORT, not LOGIC).
func Classify(f schemas.RawFinding) schemas.BugType {
	switch f.Source {
	case schemas.SourceLinter:
		return classifyLinter(f)
	case schemas.SourceTypeChecker:
		return schemas.BugTypeError
	case schemas.SourceTestRunner:
		return classifyTestFailure(f.Message)
	default:
		return classifyUnknown(f.Message)
	}
}

func classifyLinter(f schemas.RawFinding) schemas.BugType {
	rule := strings.ToUpper(strings.TrimSpace(f.RuleCode))
	if bt, ok := ruffCodeMap[rule]; ok {
		return bt
	}

	msg := strings.ToLower(f.Message)
	switch {
	case strings.HasPrefix(rule, "F4") || strings.Contains(msg, "import"):
		return schemas.BugImport
	case strings.HasPrefix(rule, "E1") || strings.Contains(msg, "indent"):
		return schemas.BugIndentation
	case strings.HasPrefix(rule, "E9") || strings.Contains(msg, "syntax"):
		return schemas.BugSyntax
	default:
		return schemas.BugLinting
	}
}

func classifyTestFailure(message string) schemas.BugType {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "typeerror") || strings.Contains(msg, "type error") || strings.Contains(msg, "expected"):
		return schemas.BugTypeError
	case strings.Contains(msg, "syntaxerror"):
		return schemas.BugSyntax
	case strings.Contains(msg, "importerror") || strings.Contains(msg, "modulenotfounderror"):
		return schemas.BugImport
	case strings.Contains(msg, "indentationerror"):
		return schemas.BugIndentation
	default:
		// Assertion failures and everything else a test can raise.
		return schemas.BugLogic
	}
}

func classifyUnknown(message string) schemas.BugType {
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "import"):
		return schemas.BugImport
	case strings.Contains(msg, "indent"):
		return schemas.BugIndentation
	case strings.Contains(msg, "syntax"):
		return schemas.BugSyntax
	case strings.Contains(msg, "type"):
		return schemas.BugTypeError
	default:
		return schemas.BugLinting
	}
}
