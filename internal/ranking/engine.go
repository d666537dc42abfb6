// Package ranking runs weighted multi-field, multi-query lookups against the
// vector index and folds the hits into one deduplicated ranked list.
//
// Scores are weighted cosine distances: lower is better throughout.
package ranking

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/vectorindex"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher looks up nearest records on one field.
type Searcher interface {
	Search(ctx context.Context, field vectorindex.Field, vec []float32, limit int) ([]vectorindex.Hit, error)
}

// Mode selects how candidates are filtered after scoring.
type Mode int

const (
	// ModeLimit keeps the best Limit candidates overall.
	ModeLimit Mode = iota
	// ModeTopN keeps the best TopN candidates per query.
	ModeTopN
	// ModeThreshold keeps every candidate scoring at or below Threshold.
	ModeThreshold
)

// ParseMode maps the wire names "topN" and "threshold"; anything else is
// ModeLimit.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "topn", "top_n":
		return ModeTopN
	case "threshold":
		return ModeThreshold
	}
	return ModeLimit
}

// FieldWeight multiplies the raw distance of one field. Since distances
// rank lower-is-better, a larger weight pushes that field's hits down the
// list and a weight below 1 favours them.
type FieldWeight struct {
	Field  vectorindex.Field
	Weight float64
}

// DefaultWeights are used by Search and SearchWithKeywords. Tags and
// content carry the largest weights, so at equal distance a question hit
// ranks ahead of a tags or content hit.
var DefaultWeights = []FieldWeight{
	{vectorindex.FieldTags, 1.8},
	{vectorindex.FieldQuestion1, 1.2},
	{vectorindex.FieldQuestion2, 1.0},
	{vectorindex.FieldContent, 1.5},
}

// TagsOnly is used by SearchByKeywords.
var TagsOnly = []FieldWeight{{vectorindex.FieldTags, 1.0}}

const (
	DefaultLimit     = 10
	DefaultTopN      = 10
	DefaultThreshold = 0.7
)

// Request describes one ranking run.
type Request struct {
	Queries   []string
	Fields    []FieldWeight
	Mode      Mode
	Limit     int // per-lookup hit count, and the final cap in ModeLimit
	TopN      int
	Threshold float64
}

// Result is a ranked record.
type Result struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	Title         string  `json:"title"`
	Section       string  `json:"section"`
	ParentSection string  `json:"parent_section"`
	ParentTitle   string  `json:"parent_title"`
	Tags          string  `json:"tags"`
	Question1     string  `json:"question1"`
	Question2     string  `json:"question2"`
	SourceFile    string  `json:"source_file"`
	Year          string  `json:"year"`
	TextRole      string  `json:"text_role"`
	Field         string  `json:"field"`
	Query         string  `json:"query"`
	Score         float64 `json:"score"`
}

func (r Result) identity() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Content
}

// Engine runs ranking requests.
type Engine struct {
	embedder    Embedder
	index       Searcher
	log         *slog.Logger
	concurrency int
}

// NewEngine creates an engine. concurrency bounds parallel lookups.
func NewEngine(embedder Embedder, index Searcher, log *slog.Logger, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 8
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{embedder: embedder, index: index, log: log, concurrency: concurrency}
}

// Rank scores every (query, field) lookup and filters per req.Mode.
// Provider failures are logged and skipped; a full outage yields an empty
// list rather than an error.
func (e *Engine) Rank(ctx context.Context, req Request) []Result {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.TopN <= 0 {
		req.TopN = req.Limit
	}

	var queries []string
	for _, q := range req.Queries {
		if strings.TrimSpace(q) != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 || len(req.Fields) == 0 {
		return []Result{}
	}

	candidates := e.collect(ctx, queries, req.Fields, req.Limit)

	if req.Mode == ModeThreshold {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Score <= req.Threshold {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	results := dedup(candidates)

	switch req.Mode {
	case ModeTopN:
		results = topNPerQuery(results, req.TopN)
	case ModeLimit:
		sortByScore(results)
		if len(results) > req.Limit {
			results = results[:req.Limit]
		}
	default:
		sortByScore(results)
	}
	return results
}

// collect embeds every query once and looks it up on every field. Slots are
// filled by position so the candidate order does not depend on scheduling.
func (e *Engine) collect(ctx context.Context, queries []string, fields []FieldWeight, limit int) []Result {
	vectors := make([][]float32, len(queries))
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			v, err := e.embedder.Embed(ctx, q)
			if err != nil {
				e.log.Warn("embed query failed", "query", q, "error", err)
				return nil
			}
			vectors[i] = v
			return nil
		})
	}
	_ = g.Wait()

	slots := make([][]Result, len(queries)*len(fields))
	g = new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for qi, q := range queries {
		if vectors[qi] == nil {
			continue
		}
		for fi, fw := range fields {
			slot := qi*len(fields) + fi
			g.Go(func() error {
				hits, err := e.index.Search(ctx, fw.Field, vectors[qi], limit)
				if err != nil {
					e.log.Warn("field lookup failed", "query", q, "field", fw.Field, "error", err)
					return nil
				}
				out := make([]Result, 0, len(hits))
				for _, h := range hits {
					r := fromHit(h)
					if strings.TrimSpace(r.Content) == "" {
						continue
					}
					r.Score = h.Distance * fw.Weight
					r.Field = string(fw.Field)
					r.Query = q
					out = append(out, r)
				}
				slots[slot] = out
				return nil
			})
		}
	}
	_ = g.Wait()

	var all []Result
	for _, s := range slots {
		all = append(all, s...)
	}
	return all
}

func fromHit(h vectorindex.Hit) Result {
	p := h.Payload
	return Result{
		ID:            h.ID,
		Content:       p[doctree.KeyContent],
		Title:         p[doctree.KeyTitle],
		Section:       p[doctree.KeySection],
		ParentSection: p[doctree.KeyParentSection],
		ParentTitle:   p[doctree.KeyParentTitle],
		Tags:          p[doctree.KeyTags],
		Question1:     p[doctree.KeyQuestion1],
		Question2:     p[doctree.KeyQuestion2],
		SourceFile:    p[doctree.KeySourceFile],
		Year:          p[doctree.KeyYear],
		TextRole:      p[doctree.KeyTextRole],
	}
}

// dedup keeps the lowest-scoring candidate per identity, in first-seen order.
func dedup(candidates []Result) []Result {
	pos := make(map[string]int, len(candidates))
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		key := c.identity()
		if i, ok := pos[key]; ok {
			if c.Score < out[i].Score {
				out[i] = c
			}
			continue
		}
		pos[key] = len(out)
		out = append(out, c)
	}
	return out
}

// topNPerQuery keeps the best n results of each query group and returns
// them merged in ascending score order.
func topNPerQuery(results []Result, n int) []Result {
	var order []string
	groups := make(map[string][]Result)
	for _, r := range results {
		if _, ok := groups[r.Query]; !ok {
			order = append(order, r.Query)
		}
		groups[r.Query] = append(groups[r.Query], r)
	}

	out := make([]Result, 0, len(results))
	for _, q := range order {
		g := groups[q]
		sortByScore(g)
		if len(g) > n {
			g = g[:n]
		}
		out = append(out, g...)
	}
	sortByScore(out)
	return out
}

func sortByScore(rs []Result) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Score < rs[j].Score })
}
