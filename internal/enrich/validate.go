package enrich

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxQuestionRunes = 200
	maxTags          = 8
	maxTagRunes      = 30
)

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|new\s+instructions|` +
		`忽略(之前|以上|上述)|系统提示)`,
)

var tagSplitRe = regexp.MustCompile(`[,，、;；\n]+`)

// cleanQuestion returns q trimmed, or "" when it is too short, too long or
// looks like an injected instruction.
func cleanQuestion(q string) string {
	q = strings.TrimSpace(q)
	n := utf8.RuneCountInString(q)
	if n < 3 || n > maxQuestionRunes {
		return ""
	}
	if injectionPattern.MatchString(q) {
		return ""
	}
	return q
}

// cleanTags splits on any common separator, drops blanks and duplicates,
// caps the count and rejoins with ",".
func cleanTags(raw string) string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range tagSplitRe.Split(raw, -1) {
		t = strings.Trim(t, " \"'#")
		if t == "" || seen[t] || utf8.RuneCountInString(t) > maxTagRunes || injectionPattern.MatchString(t) {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
		if len(tags) == maxTags {
			break
		}
	}
	return strings.Join(tags, ",")
}

// cleanKeywords trims, dedupes and drops blank keywords within one group.
func cleanKeywords(in []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
