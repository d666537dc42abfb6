package doctree

import "strings"

// Role says which logical part of a standard a chunk belongs to.
type Role string

const (
	RoleBody       Role = "正文"
	RoleAnnotation Role = "条文说明"
)

// AnnotationSentinel is the heading text that separates the normative body
// from the explanatory notes.
const AnnotationSentinel = "条文说明"

// Chunk is one retrieval unit cut from a contiguous section of a document.
type Chunk struct {
	Section       string `json:"section"`        // Dotted path, e.g. "6.1"
	Title         string `json:"title"`          // Heading text after the section number
	ParentSection string `json:"parent_section"` // Top-level ancestor number
	ParentTitle   string `json:"parent_title"`
	Content       string `json:"content"` // Body text, heading lines stripped
	TextRole      Role   `json:"text_role"`

	// Filled by enrichment; empty when generation failed.
	Question1 string `json:"question1"`
	Question2 string `json:"question2"`
	Question3 string `json:"question3"`
	Tags      string `json:"tags"`
}

// IsBody reports whether the chunk belongs to the normative text.
func (c Chunk) IsBody() bool {
	return c.TextRole != RoleAnnotation
}

// Enrichment holds generated retrieval hints for a chunk.
type Enrichment struct {
	Question1 string `json:"question1"`
	Question2 string `json:"question2"`
	Question3 string `json:"question3"`
	Tags      string `json:"tags"`
}

// WithEnrichment returns a copy of c carrying e. Structural fields are untouched.
func (c Chunk) WithEnrichment(e Enrichment) Chunk {
	c.Question1 = e.Question1
	c.Question2 = e.Question2
	c.Question3 = e.Question3
	c.Tags = e.Tags
	return c
}

// ExplanationPair joins the body and annotation text of one section.
type ExplanationPair struct {
	Section    string `json:"section"`
	Title      string `json:"title"`
	Body       string `json:"正文"`
	Annotation string `json:"条文说明"`
}

// SourceInfo describes the document a chunk came from.
type SourceInfo struct {
	SourceFile string
	Year       string
}

// NewSourceInfo derives the publication year from names like
// "JGJ289-2012_xxx.pdf"; the year is empty when the name has no dash.
func NewSourceInfo(filename string) SourceInfo {
	info := SourceInfo{SourceFile: filename}
	if _, rest, ok := strings.Cut(filename, "-"); ok {
		r := []rune(rest)
		if len(r) > 4 {
			r = r[:4]
		}
		info.Year = string(r)
	}
	return info
}
