// Package vectorindex stores chunk records with one embedding per searchable
// field and answers nearest-neighbour lookups on a single field.
//
// All implementations report cosine distance (1 - cosine similarity), so a
// lower value is always a closer match.
package vectorindex

import (
	"context"
	"fmt"
	"math"

	"github.com/dgallion1/specgest/internal/doctree"
)

// Field names a vector channel of the index.
type Field string

const (
	FieldContent   Field = "content_vector"
	FieldQuestion1 Field = "question1_vector"
	FieldQuestion2 Field = "question2_vector"
	FieldTags      Field = "tags_vector"
)

// Fields lists every vector channel in schema order.
var Fields = []Field{FieldContent, FieldQuestion1, FieldQuestion2, FieldTags}

// SourceKey returns the record key whose text is embedded into f.
func (f Field) SourceKey() string {
	switch f {
	case FieldContent:
		return doctree.KeyContent
	case FieldQuestion1:
		return doctree.KeyQuestion1
	case FieldQuestion2:
		return doctree.KeyQuestion2
	case FieldTags:
		return doctree.KeyTags
	}
	return ""
}

// Valid reports whether f is one of the schema fields.
func (f Field) Valid() bool {
	return f.SourceKey() != ""
}

// ParseField converts a field name, rejecting unknown ones.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown vector field %q", s)
	}
	return f, nil
}

// Record is one indexed chunk: a stable id and its flat payload.
type Record struct {
	ID      string
	Payload doctree.Record
}

// Point is a record together with its per-field vectors.
type Point struct {
	Record
	Vectors map[Field][]float32
}

// Hit is a lookup result.
type Hit struct {
	Record
	Distance float64
}

// Filter selects records for deletion.
type Filter struct {
	SourceFile string
}

// Index is a multi-field vector index.
type Index interface {
	// EnsureSchema creates the collection or table when missing.
	EnsureSchema(ctx context.Context, dim int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, field Field, vec []float32, limit int) ([]Hit, error)
	// Delete removes matching records and reports how many were removed
	// when the backend can tell (-1 otherwise).
	Delete(ctx context.Context, f Filter) (int, error)
}

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func validate(points []Point, dim int) error {
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point without id")
		}
		for f, v := range p.Vectors {
			if !f.Valid() {
				return fmt.Errorf("point %s: unknown field %q", p.ID, f)
			}
			if dim > 0 && len(v) != dim {
				return fmt.Errorf("point %s: %s has dimension %d, want %d", p.ID, f, len(v), dim)
			}
		}
	}
	return nil
}
