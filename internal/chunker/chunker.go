package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/specgest/internal/doctree"
)

// DefaultMinChars is the merge threshold used when callers pass a
// non-positive value.
const DefaultMinChars = 50

// headingRe matches "# N" or "# N.N" followed by the title. A single dot
// after the path is allowed when whitespace or the line end follows it, as
// in "# 1. 总则". Otherwise the path must not continue with another dot or
// digit, so "# 6.1.2" is not a heading.
var headingRe = regexp.MustCompile(`^#\s+(\d+(?:\.\d+)?)(?:\.(?:\s|$))?([^\d.].*|)$`)

// Chunk splits heading-annotated text into section chunks and merges
// undersized parents with their descendants. Text without any recognisable
// heading yields no chunks.
func Chunk(text string, minChars int) []doctree.Chunk {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return merge(split(text), minChars)
}

// accumulator collects the lines of the section currently being read.
type accumulator struct {
	section       string
	title         string
	parentSection string
	parentTitle   string
	lines         []string
}

func (a *accumulator) hasContent() bool {
	for _, l := range a.lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

// split is the first pass: one chunk per heading, classified by role.
func split(text string) []doctree.Chunk {
	var (
		chunks       []doctree.Chunk
		acc          accumulator
		role         = doctree.RoleBody
		parentTitles = map[string]string{}
	)

	flush := func() {
		if acc.section == "" || !acc.hasContent() {
			return
		}
		chunks = append(chunks, doctree.Chunk{
			Section:       acc.section,
			Title:         acc.title,
			ParentSection: acc.parentSection,
			ParentTitle:   acc.parentTitle,
			Content:       strings.TrimSpace(strings.Join(acc.lines, "\n")),
			TextRole:      role,
		})
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if isSentinel(line) {
			// Lines up to the next heading stay in the current section.
			flush()
			acc.lines = nil
			role = doctree.RoleAnnotation
			continue
		}

		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			acc.lines = append(acc.lines, raw)
			continue
		}

		flush()
		section := m[1]
		title := strings.TrimSpace(m[2])
		parent, _, nested := strings.Cut(section, ".")
		if !nested {
			parentTitles[section] = title
		}
		acc = accumulator{
			section:       section,
			title:         title,
			parentSection: parent,
			parentTitle:   parentTitles[parent],
			lines:         []string{raw},
		}
	}
	flush()

	return chunks
}

// isSentinel reports whether a trimmed line marks the start of the
// annotation part, with or without a heading marker.
func isSentinel(line string) bool {
	return strings.TrimSpace(strings.TrimLeft(line, "# \t")) == doctree.AnnotationSentinel
}

// merge is the second pass: a chunk whose body is shorter than minChars
// absorbs the following descendant chunks of the same role.
func merge(chunks []doctree.Chunk, minChars int) []doctree.Chunk {
	var out []doctree.Chunk

	for i := 0; i < len(chunks); {
		cur := chunks[i]
		base := cur.Section
		var parts []string
		if body := stripHeadings(cur.Content); body != "" {
			parts = append(parts, body)
		}
		i++

		for i < len(chunks) && runeLen(parts) < minChars {
			next := chunks[i]
			if !strings.HasPrefix(next.Section, base+".") || next.TextRole != cur.TextRole {
				break
			}
			if body := stripHeadings(next.Content); body != "" {
				parts = append(parts, body)
			}
			cur.Section = next.Section
			cur.Title = next.Title
			cur.ParentSection = next.ParentSection
			cur.ParentTitle = next.ParentTitle
			i++
		}

		cur.Content = strings.TrimSpace(strings.Join(parts, "\n\n"))
		if cur.Content == "" {
			continue
		}
		out = append(out, cur)
	}

	return out
}

// stripHeadings drops every line that starts with '#' after trimming.
func stripHeadings(content string) string {
	var kept []string
	for _, l := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "#") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func runeLen(parts []string) int {
	return utf8.RuneCountInString(strings.Join(parts, "\n\n"))
}
