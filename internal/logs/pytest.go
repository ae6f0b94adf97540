package logs

import (
	"bytes"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// pytestReport mirrors the subset of a pytest-json-report document the
// aggregator reads.
type pytestReport struct {
	Tests []pytestTest `json:"tests"`
}

type pytestTest struct {
	NodeID   string       `json:"nodeid"`
	Outcome  string       `json:"outcome"`
	Call     *pytestPhase `json:"call"`
	Setup    *pytestPhase `json:"setup"`
	Teardown *pytestPhase `json:"teardown"`
}

type pytestPhase struct {
	Crash    *pytestCrash `json:"crash"`
	Longrepr string       `json:"longrepr"`
}

type pytestCrash struct {
	Path    string `json:"path"`
	Lineno  int    `json:"lineno"`
	Message string `json:"message"`
}

// phases returns the report phases in the order crash metadata is trusted.
func (t pytestTest) phases() []*pytestPhase {
	return []*pytestPhase{t.Call, t.Setup, t.Teardown}
}

func (c *pytestCrash) empty() bool {
	return c == nil || (c.Path == "" && c.Lineno == 0 && c.Message == "")
}

// parsePytest extracts one finding per failed or errored test from a
// pytest-json-report document. Crash metadata is preferred; the nodeid
// supplies the file when no phase crashed, and the last longrepr line
// replaces messages too short to be useful.
func (a *Aggregator) parsePytest(data []byte) []schemas.RawFinding {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var report pytestReport
	if err := json.Unmarshal(data, &report); err != nil {
		a.logger.Warn("Pytest report is not valid JSON; ignoring.", zap.Error(err))
		return nil
	}

	var findings []schemas.RawFinding
	for _, test := range report.Tests {
		if test.Outcome != "failed" && test.Outcome != "error" {
			continue
		}

		file := "unknown"
		lineNo := 0
		message := "Test failed"
		for _, phase := range test.phases() {
			if phase == nil || phase.Crash.empty() {
				continue
			}
			if file = phase.Crash.Path; file == "" {
				file = "unknown"
			}
			lineNo = phase.Crash.Lineno
			if message = phase.Crash.Message; message == "" {
				message = "Test assertion failed"
			}
			break
		}

		if file == "unknown" && strings.Contains(test.NodeID, "::") {
			file = strings.SplitN(test.NodeID, "::", 2)[0]
		}

		// Crash messages like "assert 3 == 4" are fine, but a bare "assert"
		// tells the model nothing. The final longrepr line is the assertion
		// summary and usually reads better.
		if len(message) < 10 {
			if last := lastLongreprLine(test.phases()); len(last) > len(message) {
				message = last
			}
		}

		if lineNo <= 0 {
			lineNo = 1
		}

		findings = append(findings, schemas.RawFinding{
			Source:  schemas.SourceTestRunner,
			File:    file,
			Line:    lineNo,
			Message: message,
		})
	}
	return findings
}

// lastLongreprLine returns the trailing line of the first non-empty longrepr.
func lastLongreprLine(phases []*pytestPhase) string {
	for _, phase := range phases {
		if phase == nil || phase.Longrepr == "" {
			continue
		}
		lines := strings.Split(strings.TrimSpace(phase.Longrepr), "\n")
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
