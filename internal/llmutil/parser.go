// Package llmutil recovers structured payloads from model responses that
// arrive wrapped in markdown fences or conversational prose.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Regex definitions use \x60 (hex representation) for backticks because Go raw strings cannot contain backticks.

	// jsonObjectRegex extracts a JSON object if the response is wrapped in markdown.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array if the response is wrapped in markdown.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\[.*\\])\\s*\x60\x60\x60")

	// codeBlockRegex extracts content wrapped in markdown, supporting language tags (python, diff, etc.).
	codeBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
)

// ParseJSONResponse parses a model response into a target Go type using
// generics, tolerating the usual formatting noise. Recovery order: markdown
// fence extraction, direct unmarshal, then outermost-bracket extraction for
// payloads buried in prose.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	candidate := response

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			candidate = matches[1]
		}
	}

	var result T
	err := json.Unmarshal([]byte(candidate), &result)
	if err == nil {
		return &result, nil
	}

	// Models love to wrap a perfectly good array in commentary, with or
	// without closing the fence. Take the outermost bracketed span as a last
	// resort before giving up.
	for _, span := range bracketCandidates(response) {
		if span == candidate {
			continue
		}
		var recovered T
		if retryErr := json.Unmarshal([]byte(span), &recovered); retryErr == nil {
			return &recovered, nil
		}
	}

	return nil, fmt.Errorf("failed to unmarshal model JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(candidate, 500))
}

// bracketCandidates returns the outermost [...] and {...} spans of s, array
// first since fix batches are arrays.
func bracketCandidates(s string) []string {
	var spans []string
	if fb, lb := strings.Index(s, "["), strings.LastIndex(s, "]"); fb != -1 && lb > fb {
		spans = append(spans, s[fb:lb+1])
	}
	if fb, lb := strings.Index(s, "{"), strings.LastIndex(s, "}"); fb != -1 && lb > fb {
		spans = append(spans, s[fb:lb+1])
	}
	return spans
}

// CleanCodeOutput removes markdown fences (```python, bare ```) from a code
// snippet. Only line breaks are trimmed from the edges: leading indentation
// is load-bearing in Python sources and the patch applier matches and writes
// lines verbatim.
func CleanCodeOutput(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return strings.Trim(content, "\r\n")
	}

	nl := strings.IndexByte(trimmed, '\n')
	if nl < 0 {
		// Single-line fence, e.g. ```x = 1```.
		if m := codeBlockRegex.FindStringSubmatch(trimmed); len(m) > 1 {
			return m[1]
		}
		return content
	}

	body := trimmed[nl+1:]
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.Trim(body, "\r\n")
}

// truncateString truncates a string to a maximum length for error messages.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
