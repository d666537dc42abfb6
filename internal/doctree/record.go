package doctree

// Record is the flat key/value form used by the job store and the vector
// index payload. Every schema key is present; missing values are "".
type Record map[string]string

// Chunk record keys.
const (
	KeySection       = "section"
	KeyTitle         = "title"
	KeyParentSection = "parent_section"
	KeyParentTitle   = "parent_title"
	KeyContent       = "content"
	KeyTextRole      = "text_role"
	KeyQuestion1     = "question1"
	KeyQuestion2     = "question2"
	KeyQuestion3     = "question3"
	KeyTags          = "tags"
	KeySourceFile    = "source_file"
	KeyYear          = "year"
)

// Explanation pair record keys.
const (
	KeyBody       = string(RoleBody)
	KeyAnnotation = string(RoleAnnotation)
)

var chunkKeys = []string{
	KeySection, KeyTitle, KeyParentSection, KeyParentTitle, KeyContent,
	KeyTextRole, KeyQuestion1, KeyQuestion2, KeyQuestion3, KeyTags,
}

var pairKeys = []string{KeySection, KeyTitle, KeyBody, KeyAnnotation}

// ToRecord flattens a chunk.
func (c Chunk) ToRecord() Record {
	return Record{
		KeySection:       c.Section,
		KeyTitle:         c.Title,
		KeyParentSection: c.ParentSection,
		KeyParentTitle:   c.ParentTitle,
		KeyContent:       c.Content,
		KeyTextRole:      string(c.TextRole),
		KeyQuestion1:     c.Question1,
		KeyQuestion2:     c.Question2,
		KeyQuestion3:     c.Question3,
		KeyTags:          c.Tags,
	}
}

// ChunkFromRecord rebuilds a chunk. Unknown keys are ignored and a missing
// role reads as body.
func ChunkFromRecord(r Record) Chunk {
	role := Role(r[KeyTextRole])
	if role != RoleAnnotation {
		role = RoleBody
	}
	return Chunk{
		Section:       r[KeySection],
		Title:         r[KeyTitle],
		ParentSection: r[KeyParentSection],
		ParentTitle:   r[KeyParentTitle],
		Content:       r[KeyContent],
		TextRole:      role,
		Question1:     r[KeyQuestion1],
		Question2:     r[KeyQuestion2],
		Question3:     r[KeyQuestion3],
		Tags:          r[KeyTags],
	}
}

// ToRecord flattens an explanation pair.
func (p ExplanationPair) ToRecord() Record {
	return Record{
		KeySection:    p.Section,
		KeyTitle:      p.Title,
		KeyBody:       p.Body,
		KeyAnnotation: p.Annotation,
	}
}

// PairFromRecord rebuilds an explanation pair.
func PairFromRecord(r Record) ExplanationPair {
	return ExplanationPair{
		Section:    r[KeySection],
		Title:      r[KeyTitle],
		Body:       r[KeyBody],
		Annotation: r[KeyAnnotation],
	}
}

// ToRecord flattens source metadata.
func (s SourceInfo) ToRecord() Record {
	return Record{
		KeySourceFile: s.SourceFile,
		KeyYear:       s.Year,
	}
}

// MergeRecords combines records left to right; on a key collision the later
// record wins. Chunk schema keys are always present in the result.
func MergeRecords(sources ...Record) Record {
	out := make(Record, len(chunkKeys)+2)
	for _, k := range chunkKeys {
		out[k] = ""
	}
	for _, src := range sources {
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}

// Normalize fills every chunk or pair schema key that r lacks with "".
func (r Record) Normalize(pair bool) Record {
	keys := chunkKeys
	if pair {
		keys = pairKeys
	}
	out := make(Record, len(r)+len(keys))
	for _, k := range keys {
		out[k] = ""
	}
	for k, v := range r {
		out[k] = v
	}
	return out
}
