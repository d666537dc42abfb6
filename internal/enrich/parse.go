package enrich

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	numberedRe  = regexp.MustCompile(`^\s*\d+\s*[.、)）]\s*(.+)$`)
	thinkRe     = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// ErrNoJSON is returned when a model reply holds no JSON value.
var ErrNoJSON = errors.New("no json in model output")

// ExtractJSON pulls the JSON payload out of a model reply. A fenced block
// wins; otherwise the outermost {...} or [...] span is used.
func ExtractJSON(text string) (json.RawMessage, error) {
	text = thinkRe.ReplaceAllString(text, "")
	if m := codeBlockRe.FindStringSubmatch(text); len(m) > 1 && json.Valid([]byte(m[1])) {
		return json.RawMessage(m[1]), nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start < 0 || end <= start {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoJSON
}

// parseNumbered collects up to max lines of the form "1. ...", "2、...".
func parseNumbered(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := numberedRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, strings.TrimSpace(m[1]))
		if len(out) == max {
			break
		}
	}
	return out
}

// stringValue accepts either a JSON string or an array of strings.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}
