package doctree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRecord_AllKeysPresent(t *testing.T) {
	rec := Chunk{Section: "6.1", Content: "短。", TextRole: RoleBody}.ToRecord()

	for _, k := range chunkKeys {
		_, ok := rec[k]
		assert.True(t, ok, "missing key %q", k)
	}
	assert.Equal(t, "", rec[KeyTags])
	assert.Equal(t, "正文", rec[KeyTextRole])
}

func TestChunkFromRecord_MissingRoleIsBody(t *testing.T) {
	c := ChunkFromRecord(Record{KeySection: "3", KeyContent: "x"})
	assert.Equal(t, RoleBody, c.TextRole)
	assert.Equal(t, "", c.Question1)
}

func TestChunkFromRecord_RoundTrip(t *testing.T) {
	in := Chunk{
		Section: "6.1", Title: "抗流挂性", ParentSection: "6", ParentTitle: "保温层",
		Content: "内容", TextRole: RoleAnnotation, Question1: "q1", Tags: "保温",
	}
	assert.Equal(t, in, ChunkFromRecord(in.ToRecord()))
}

func TestMergeRecords_LaterWins(t *testing.T) {
	chunk := Chunk{Section: "1", Content: "a", Tags: "old"}.ToRecord()
	src := NewSourceInfo("JGJ289-2012_外保温.pdf").ToRecord()
	override := Record{KeyTags: "new"}

	merged := MergeRecords(chunk, src, override)

	assert.Equal(t, "new", merged[KeyTags])
	assert.Equal(t, "JGJ289-2012_外保温.pdf", merged[KeySourceFile])
	assert.Equal(t, "2012", merged[KeyYear])
	assert.Equal(t, "1", merged[KeySection])
}

func TestMergeRecords_EmptyHasSchemaKeys(t *testing.T) {
	merged := MergeRecords()
	assert.Len(t, merged, len(chunkKeys))
}

func TestNewSourceInfo_NoDash(t *testing.T) {
	info := NewSourceInfo("standard.pdf")
	assert.Equal(t, "", info.Year)
	assert.Equal(t, "standard.pdf", info.SourceFile)
}

func TestNewSourceInfo_ShortSuffix(t *testing.T) {
	assert.Equal(t, "20", NewSourceInfo("GB-20").Year)
}

func TestPairRecord_EmptySidesSerialized(t *testing.T) {
	rec := ExplanationPair{Section: "4.2", Title: "t", Body: "b"}.ToRecord()
	assert.Equal(t, "", rec[KeyAnnotation])
	assert.Equal(t, "b", rec[KeyBody])
	assert.Equal(t, ExplanationPair{Section: "4.2", Title: "t", Body: "b"}, PairFromRecord(rec))
}

func TestExplanationPair_JSONKeepsEmptyFields(t *testing.T) {
	data, err := json.Marshal(ExplanationPair{Section: "1", Title: "总则"})
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Contains(t, m, "正文")
	assert.Contains(t, m, "条文说明")
}

func TestRecordNormalize(t *testing.T) {
	r := Record{KeySection: "2"}.Normalize(true)
	assert.Len(t, r, len(pairKeys))
	assert.Equal(t, "2", r[KeySection])
}

func TestWithEnrichment_KeepsStructure(t *testing.T) {
	c := Chunk{Section: "5", Title: "t", Content: "c", TextRole: RoleBody}
	got := c.WithEnrichment(Enrichment{Question1: "q", Tags: "x"})
	assert.Equal(t, "5", got.Section)
	assert.Equal(t, "c", got.Content)
	assert.Equal(t, "q", got.Question1)
	assert.Equal(t, "x", got.Tags)
}
