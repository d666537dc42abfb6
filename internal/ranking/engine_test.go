package ranking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/embedding"
	"github.com/dgallion1/specgest/internal/ranking/mocks"
	"github.com/dgallion1/specgest/internal/vectorindex"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hit(id, content string, dist float64) vectorindex.Hit {
	return vectorindex.Hit{
		Record:   vectorindex.Record{ID: id, Payload: doctree.Record{doctree.KeyContent: content}},
		Distance: dist,
	}
}

func TestRank_DedupKeepsLowestScore(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), "保温").Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldTags, gomock.Any(), 5).
		Return([]vectorindex.Hit{hit("a", "外墙保温", 0.5)}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldContent, gomock.Any(), 5).
		Return([]vectorindex.Hit{hit("a", "外墙保温", 0.3)}, nil)

	e := NewEngine(emb, idx, quietLogger(), 4)
	got := e.Rank(context.Background(), Request{
		Queries: []string{"保温"},
		Fields:  []FieldWeight{{vectorindex.FieldTags, 1.8}, {vectorindex.FieldContent, 1.0}},
		Limit:   5,
	})

	require.Len(t, got, 1)
	assert.InDelta(t, 0.3, got[0].Score, 1e-9)
	assert.Equal(t, string(vectorindex.FieldContent), got[0].Field)
	assert.Equal(t, "保温", got[0].Query)
}

func TestRank_IdentityFallsBackToContent(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil).Times(2)
	idx.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ vectorindex.Field, _ []float32, _ int) ([]vectorindex.Hit, error) {
			return []vectorindex.Hit{hit("", "同一段内容", 0.4), hit("", "另一段", 0.6)}, nil
		}).Times(2)

	got := NewEngine(emb, idx, quietLogger(), 2).Rank(context.Background(), Request{
		Queries: []string{"q1", "q2"},
		Fields:  []FieldWeight{{vectorindex.FieldTags, 1}},
	})

	assert.Len(t, got, 2)
}

func TestRank_ThresholdDropsHighScores(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldTags, gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("a", "a", 0.3), hit("b", "b", 0.5), hit("c", "c", 0.2)}, nil)

	got := NewEngine(emb, idx, quietLogger(), 1).Rank(context.Background(), Request{
		Queries:   []string{"防火"},
		Fields:    []FieldWeight{{vectorindex.FieldTags, 2}},
		Mode:      ModeThreshold,
		Threshold: 0.7,
	})

	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	for _, r := range got {
		assert.LessOrEqual(t, r.Score, 0.7)
	}
}

func TestRank_LimitModeCaps(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), 2).
		Return([]vectorindex.Hit{hit("a", "a", 0.9), hit("b", "b", 0.1)}, nil).Times(len(DefaultWeights))

	got := NewEngine(emb, idx, quietLogger(), 4).Search(context.Background(), "保温", 2)

	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Score < got[j].Score }))
}

func TestRank_TotalOutageIsEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused")).Times(2)

	got := NewEngine(emb, idx, quietLogger(), 2).Rank(context.Background(), Request{
		Queries: []string{"a", "b"},
		Fields:  DefaultWeights,
	})

	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRank_FailedLookupSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldTags, gomock.Any(), gomock.Any()).
		Return(nil, errors.New("timeout"))
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldContent, gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("x", "内容", 0.2)}, nil)

	got := NewEngine(emb, idx, quietLogger(), 2).Rank(context.Background(), Request{
		Queries: []string{"q"},
		Fields:  []FieldWeight{{vectorindex.FieldTags, 1.8}, {vectorindex.FieldContent, 1.5}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.InDelta(t, 0.3, got[0].Score, 1e-9)
}

func TestRank_BlankQueriesSkippedDuplicatesIssued(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), "保温").Return([]float32{1}, nil).Times(2)
	idx.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("a", "a", 0.1)}, nil).Times(2)

	got := NewEngine(emb, idx, quietLogger(), 2).Rank(context.Background(), Request{
		Queries: []string{"保温", "  ", "", "保温"},
		Fields:  []FieldWeight{{vectorindex.FieldTags, 1}},
	})

	assert.Len(t, got, 1)
}

func TestRank_BlankContentDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("a", "  \n", 0.01), hit("b", "正文", 0.5)}, nil)

	got := NewEngine(emb, idx, quietLogger(), 1).Rank(context.Background(), Request{
		Queries: []string{"q"},
		Fields:  []FieldWeight{{vectorindex.FieldContent, 1}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSearchByKeywords_TagsOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil).Times(2)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldTags, gomock.Any(), DefaultTopN).
		Return([]vectorindex.Hit{hit("a", "a", 0.1)}, nil).Times(2)

	got := NewEngine(emb, idx, quietLogger(), 2).SearchByKeywords(context.Background(),
		[]string{"岩棉", "聚苯板"}, Options{Mode: ModeTopN})

	assert.Len(t, got, 1)
}

func TestSearchWithKeywords_QueryPlusKeywords(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), "外墙保温做法").Return([]float32{1}, nil)
	emb.EXPECT().Embed(gomock.Any(), "岩棉").Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).Times(2 * len(DefaultWeights))

	got := NewEngine(emb, idx, quietLogger(), 4).SearchWithKeywords(context.Background(),
		"外墙保温做法", []string{"岩棉"}, Options{Mode: ModeThreshold})

	assert.Empty(t, got)
}

// Two queries against {tags:1.8, content:1.0} with limit 5 and top 2 per
// query must yield at most four results in ascending score order.
func TestRank_TopNTwoQueries(t *testing.T) {
	ctx := context.Background()
	emb := embedding.NewHash(128)
	idx := vectorindex.NewMemory()
	require.NoError(t, idx.EnsureSchema(ctx, 128))

	texts := []struct{ content, tags string }{
		{"外墙外保温系统应能适应基层的正常变形", "保温,外墙"},
		{"保温层厚度应符合设计要求", "保温,厚度"},
		{"防火隔离带应采用不燃材料", "防火,隔离带"},
		{"建筑外墙防火构造", "防火,构造"},
		{"保温材料燃烧性能等级", "保温,防火"},
		{"抹面层抗裂性能", "抹面,抗裂"},
		{"岩棉板的吸水率", "岩棉,吸水"},
		{"锚栓的拉拔力检测", "锚栓,检测"},
	}
	var points []vectorindex.Point
	for i, tc := range texts {
		cv, err := emb.Embed(ctx, tc.content)
		require.NoError(t, err)
		tv, err := emb.Embed(ctx, tc.tags)
		require.NoError(t, err)
		points = append(points, vectorindex.Point{
			Record: vectorindex.Record{
				ID:      fmt.Sprintf("p%d", i),
				Payload: doctree.Chunk{Content: tc.content, Tags: tc.tags}.ToRecord(),
			},
			Vectors: map[vectorindex.Field][]float32{
				vectorindex.FieldContent: cv,
				vectorindex.FieldTags:    tv,
			},
		})
	}
	require.NoError(t, idx.Upsert(ctx, points))

	got := NewEngine(emb, idx, quietLogger(), 4).Rank(ctx, Request{
		Queries: []string{"保温", "防火"},
		Fields:  []FieldWeight{{vectorindex.FieldTags, 1.8}, {vectorindex.FieldContent, 1.0}},
		Mode:    ModeTopN,
		Limit:   5,
		TopN:    2,
	})

	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 4)
	perQuery := map[string]int{}
	seen := map[string]bool{}
	for i, r := range got {
		perQuery[r.Query]++
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].Score, r.Score)
		}
	}
	for q, n := range perQuery {
		assert.LessOrEqual(t, n, 2, "query %s", q)
	}
}

func TestTopNPerQuery(t *testing.T) {
	in := []Result{
		{ID: "a", Query: "x", Score: 0.5},
		{ID: "b", Query: "y", Score: 0.1},
		{ID: "c", Query: "x", Score: 0.2},
		{ID: "d", Query: "x", Score: 0.3},
		{ID: "e", Query: "y", Score: 0.9},
	}

	got := topNPerQuery(in, 2)

	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"b", "c", "d", "e"}, ids)
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeTopN, ParseMode("topN"))
	assert.Equal(t, ModeThreshold, ParseMode("threshold"))
	assert.Equal(t, ModeLimit, ParseMode(""))
}

func TestRank_HeavierFieldWeightRanksLower(t *testing.T) {
	ctrl := gomock.NewController(t)
	emb := mocks.NewMockEmbedder(ctrl)
	idx := mocks.NewMockSearcher(ctrl)

	emb.EXPECT().Embed(gomock.Any(), gomock.Any()).Return([]float32{1}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldTags, gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("t", "标签命中", 0.4)}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldQuestion1, gomock.Any(), gomock.Any()).
		Return([]vectorindex.Hit{hit("q", "问题命中", 0.4)}, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldQuestion2, gomock.Any(), gomock.Any()).
		Return(nil, nil)
	idx.EXPECT().Search(gomock.Any(), vectorindex.FieldContent, gomock.Any(), gomock.Any()).
		Return(nil, nil)

	got := NewEngine(emb, idx, quietLogger(), 4).Rank(context.Background(), Request{
		Queries: []string{"保温"},
		Fields:  DefaultWeights,
		Limit:   5,
	})

	require.Len(t, got, 2)
	assert.Equal(t, "q", got[0].ID)
	assert.Equal(t, "t", got[1].ID)
	assert.InDelta(t, 0.4*1.2, got[0].Score, 1e-9)
	assert.InDelta(t, 0.4*1.8, got[1].Score, 1e-9)
}
