package convert

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// numberedLineRe matches a one- or two-level section number followed by a
// title, e.g. "6 保温层", "6.1抗流挂性", "1. 总则". Three-level clause
// numbers such as "6.1.2" never match.
var numberedLineRe = regexp.MustCompile(`^(\d{1,2}(?:\.\d{1,2})?)(?:\.\s+|\s*)([^\d.\s].*)$`)

const maxHeadingRunes = 40

// Headingize marks numbered section lines with "# ". Lines that already
// start with '#' are kept. Long lines and lines ending in sentence
// punctuation are body text, not headings.
func Headingize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		if h, ok := headingLine(raw); ok {
			lines[i] = h
		}
	}
	return strings.Join(lines, "\n")
}

func headingLine(raw string) (string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	m := numberedLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	title := strings.TrimSpace(m[2])
	if utf8.RuneCountInString(title) > maxHeadingRunes || endsSentence(title) {
		return "", false
	}
	return "# " + m[1] + " " + title, true
}

func endsSentence(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune("。；;，,：:、%", r)
}

// headingText renders a heading taken from a structured source. Numbered
// titles become chunker headings; others keep a marker so they are
// stripped from chunk bodies.
func headingText(title string) string {
	title = strings.TrimSpace(title)
	if m := numberedLineRe.FindStringSubmatch(title); m != nil {
		return "# " + m[1] + " " + strings.TrimSpace(m[2])
	}
	return "# " + title
}

// joinBlocks joins non-empty blocks with a blank line.
func joinBlocks(blocks []string) string {
	kept := blocks[:0]
	for _, b := range blocks {
		if b = strings.TrimSpace(b); b != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, "\n\n")
}
