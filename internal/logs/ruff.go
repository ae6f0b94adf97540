package logs

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// ruffDiagnostic mirrors one entry of `ruff check --output-format json`.
type ruffDiagnostic struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// parseRuff decodes a ruff JSON array into linter findings. Entries with a
// non-positive row are whole-file diagnostics and carry no usable location,
// so they are skipped.
func (a *Aggregator) parseRuff(data []byte) []schemas.RawFinding {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("[]")) {
		return nil
	}

	var diags []ruffDiagnostic
	if err := json.Unmarshal(data, &diags); err != nil {
		a.logger.Warn("Ruff output is not a valid JSON array; ignoring.", zap.Error(err))
		return nil
	}

	findings := make([]schemas.RawFinding, 0, len(diags))
	for _, d := range diags {
		if d.Location.Row <= 0 {
			continue
		}
		file := d.Filename
		if file == "" {
			file = "unknown"
		}
		msg := d.Message
		if msg == "" {
			msg = "Unknown ruff error"
		}
		findings = append(findings, schemas.RawFinding{
			Source:   schemas.SourceLinter,
			File:     file,
			Line:     d.Location.Row,
			Message:  msg,
			RuleCode: d.Code,
		})
	}
	return findings
}
