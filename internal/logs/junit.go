package logs

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// parseJUnit extracts findings from a JUnit XML report, the format CI runners
// fall back to when pytest-json-report is not installed. Each <failure> or
// <error> child of a testcase yields one finding.
func (a *Aggregator) parseJUnit(data []byte) []schemas.RawFinding {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		a.logger.Warn("JUnit report is not valid XML; ignoring.", zap.Error(err))
		return nil
	}

	var findings []schemas.RawFinding
	for _, testcase := range doc.FindElements("//testcase") {
		fault := testcase.SelectElement("failure")
		if fault == nil {
			fault = testcase.SelectElement("error")
		}
		if fault == nil {
			continue
		}

		file := testcase.SelectAttrValue("file", "")
		if file == "" {
			// Some producers only set the node id in the name attribute.
			if name := testcase.SelectAttrValue("name", ""); strings.Contains(name, "::") {
				file = strings.SplitN(name, "::", 2)[0]
			}
		}

		// pytest writes the line attribute zero-based.
		line := 1
		if v := testcase.SelectAttrValue("line", ""); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				line = n + 1
			}
		}

		message := fault.SelectAttrValue("message", "")
		if message == "" {
			message = strings.TrimSpace(fault.Text())
			if i := strings.IndexByte(message, '\n'); i >= 0 {
				message = strings.TrimSpace(message[:i])
			}
		}

		findings = append(findings, schemas.RawFinding{
			Source:  schemas.SourceTestRunner,
			File:    file,
			Line:    line,
			Message: message,
		})
	}
	return findings
}
