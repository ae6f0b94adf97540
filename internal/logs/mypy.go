package logs

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// mypyLine matches one diagnostic of `mypy --show-column-numbers` output:
//
//	src/main.py:10:5: error: Incompatible types in assignment  [assignment]
//
// The file group is lazy so Windows drive-letter colons do not confuse it;
// line and column are always digits and ": error:" anchors the split. The
// trailing error-code bracket is stripped from the message.
var mypyLine = regexp.MustCompile(`^(.+?):(\d+):\d+:\s*error:\s*(.+?)(?:\s*\[[\w-]+\])?\s*$`)

// parseMypy scans mypy's plain-text output line by line. Notes, summary lines
// and anything else that does not match the diagnostic shape are skipped.
func (a *Aggregator) parseMypy(data []byte) []schemas.RawFinding {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var findings []schemas.RawFinding
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "Found ") {
			continue
		}
		m := mypyLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, err := strconv.Atoi(m[2])
		if err != nil || lineNo <= 0 {
			continue
		}
		findings = append(findings, schemas.RawFinding{
			Source:  schemas.SourceTypeChecker,
			File:    m[1],
			Line:    lineNo,
			Message: strings.TrimSpace(m[3]),
		})
	}
	return findings
}
