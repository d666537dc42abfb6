package ranking

import "context"

// Options tune the keyword search variants.
type Options struct {
	Mode      Mode
	TopN      int
	Threshold float64
	Limit     int
}

func (o Options) request(queries []string, fields []FieldWeight) Request {
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	if o.Limit <= 0 {
		o.Limit = o.TopN
	}
	if o.Mode == ModeThreshold && o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	return Request{
		Queries:   queries,
		Fields:    fields,
		Mode:      o.Mode,
		Limit:     o.Limit,
		TopN:      o.TopN,
		Threshold: o.Threshold,
	}
}

// Search runs one query across all four fields with the default weights.
func (e *Engine) Search(ctx context.Context, query string, limit int) []Result {
	return e.Rank(ctx, Request{
		Queries: []string{query},
		Fields:  DefaultWeights,
		Mode:    ModeLimit,
		Limit:   limit,
	})
}

// SearchByKeywords looks up each keyword on the tags field only.
func (e *Engine) SearchByKeywords(ctx context.Context, keywords []string, opts Options) []Result {
	return e.Rank(ctx, opts.request(keywords, TagsOnly))
}

// SearchWithKeywords looks up the query and every keyword on all fields.
func (e *Engine) SearchWithKeywords(ctx context.Context, query string, keywords []string, opts Options) []Result {
	queries := make([]string, 0, len(keywords)+1)
	queries = append(queries, query)
	queries = append(queries, keywords...)
	return e.Rank(ctx, opts.request(queries, DefaultWeights))
}
