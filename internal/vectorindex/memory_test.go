package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/specgest/internal/doctree"
)

func point(id, source string, content []float32) Point {
	return Point{
		Record: Record{ID: id, Payload: doctree.MergeRecords(
			doctree.Chunk{Section: id, Content: "c" + id}.ToRecord(),
			doctree.Record{doctree.KeySourceFile: source},
		)},
		Vectors: map[Field][]float32{FieldContent: content, FieldTags: {0, 0}},
	}
}

func TestMemory_SearchOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureSchema(ctx, 2))
	require.NoError(t, m.Upsert(ctx, []Point{
		point("a", "x.pdf", []float32{0, 1}),
		point("b", "x.pdf", []float32{1, 0}),
		point("c", "y.pdf", []float32{1, 1}),
	}))

	hits, err := m.Search(ctx, FieldContent, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-9)
	assert.Equal(t, "c", hits[1].ID)
	assert.Less(t, hits[0].Distance, hits[1].Distance)
}

func TestMemory_ZeroVectorIsFar(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, []Point{point("a", "x", []float32{1, 0})}))

	hits, err := m.Search(ctx, FieldTags, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1, hits[0].Distance, 1e-9)
}

func TestMemory_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, []Point{point("a", "x", []float32{1, 0})}))
	require.NoError(t, m.Upsert(ctx, []Point{point("a", "y", []float32{0, 1})}))
	assert.Equal(t, 1, m.Len())
}

func TestMemory_DimensionChecked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureSchema(ctx, 3))
	err := m.Upsert(ctx, []Point{point("a", "x", []float32{1, 0})})
	assert.ErrorContains(t, err, "dimension")
}

func TestMemory_DeleteBySourceFile(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upsert(ctx, []Point{
		point("a", "JGJ289-2012.pdf", []float32{1, 0}),
		point("b", "JGJ289-2012.pdf", []float32{1, 0}),
		point("c", "GB50411-2019.pdf", []float32{1, 0}),
	}))

	n, err := m.Delete(ctx, Filter{SourceFile: "JGJ289-2012.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m.Len())

	hits, err := m.Search(ctx, FieldContent, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)
}

func TestMemory_UnknownField(t *testing.T) {
	_, err := NewMemory().Search(context.Background(), Field("title_vector"), []float32{1}, 1)
	assert.Error(t, err)
}

func TestParseField(t *testing.T) {
	f, err := ParseField("tags_vector")
	require.NoError(t, err)
	assert.Equal(t, FieldTags, f)
	assert.Equal(t, doctree.KeyTags, f.SourceKey())

	_, err = ParseField("bogus")
	assert.Error(t, err)
}
