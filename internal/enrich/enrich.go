// Package enrich asks a language model for retrieval hints: per-chunk
// questions and tags, and keyword expansion of search queries.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/specgest/internal/chunker"
	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/llm"
)

// DefaultMaxInputTokens bounds the chunk text sent to the model.
const DefaultMaxInputTokens = 3000

// Enricher generates questions, tags and keywords.
type Enricher struct {
	log            *slog.Logger
	maxInputTokens int
}

func New(log *slog.Logger, maxInputTokens int) *Enricher {
	if maxInputTokens <= 0 {
		maxInputTokens = DefaultMaxInputTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Enricher{log: log, maxInputTokens: maxInputTokens}
}

// Chunk generates the enrichment fields for one chunk. Transport errors are
// returned unchanged so callers can retry *llm.RetryableError; a reply that
// cannot be parsed yields an empty Enrichment and no error.
func (e *Enricher) Chunk(ctx context.Context, model llm.Completer, c doctree.Chunk) (doctree.Enrichment, error) {
	content := chunker.TruncateTokens(c.Content, e.maxInputTokens)
	reply, err := model.Complete(ctx, llm.Request{Prompt: QuestionPrompt(c, content)})
	if err != nil {
		return doctree.Enrichment{}, err
	}
	enr, err := ParseEnrichment(reply)
	if err != nil {
		e.log.Warn("unparseable enrichment reply", "section", c.Section, "error", err, "reply", llm.Truncate(reply, 200))
		return doctree.Enrichment{}, nil
	}
	return enr, nil
}

// ParseEnrichment reads a question/tag reply. JSON is preferred; a plain
// numbered list is accepted for the questions.
func ParseEnrichment(reply string) (doctree.Enrichment, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		qs := parseNumbered(reply, 3)
		if len(qs) == 0 {
			return doctree.Enrichment{}, err
		}
		qs = append(qs, "", "", "")
		return doctree.Enrichment{
			Question1: cleanQuestion(qs[0]),
			Question2: cleanQuestion(qs[1]),
			Question3: cleanQuestion(qs[2]),
		}, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		var list []string
		if lerr := json.Unmarshal(raw, &list); lerr != nil {
			return doctree.Enrichment{}, fmt.Errorf("decode enrichment: %w", err)
		}
		list = append(list, "", "", "")
		return doctree.Enrichment{
			Question1: cleanQuestion(list[0]),
			Question2: cleanQuestion(list[1]),
			Question3: cleanQuestion(list[2]),
		}, nil
	}

	return doctree.Enrichment{
		Question1: cleanQuestion(stringValue(fields["question1"])),
		Question2: cleanQuestion(stringValue(fields["question2"])),
		Question3: cleanQuestion(stringValue(fields["question3"])),
		Tags:      cleanTags(stringValue(fields["tags"])),
	}, nil
}

// Keywords groups the expansion of a search query.
type Keywords struct {
	Material      []string `json:"material_keywords"`
	Functional    []string `json:"functional_keywords"`
	Component     []string `json:"component_keywords"`
	Process       []string `json:"process_keywords"`
	SimilarTask   []string `json:"similar_task_keywords"`
	Combinational []string `json:"combinational_keywords"`
}

// FallbackKeywords is returned when expansion fails: the query itself as
// the only material keyword.
func FallbackKeywords(query string) Keywords {
	return Keywords{
		Material:      []string{query},
		Functional:    []string{},
		Component:     []string{},
		Process:       []string{},
		SimilarTask:   []string{},
		Combinational: []string{},
	}
}

// All flattens every group in declaration order without duplicates.
func (k Keywords) All() []string {
	var all []string
	for _, g := range [][]string{k.Material, k.Functional, k.Component, k.Process, k.SimilarTask, k.Combinational} {
		all = append(all, g...)
	}
	return cleanKeywords(all)
}

func (k Keywords) normalized() Keywords {
	return Keywords{
		Material:      cleanKeywords(k.Material),
		Functional:    cleanKeywords(k.Functional),
		Component:     cleanKeywords(k.Component),
		Process:       cleanKeywords(k.Process),
		SimilarTask:   cleanKeywords(k.SimilarTask),
		Combinational: cleanKeywords(k.Combinational),
	}
}

// Keywords expands query into keyword groups. Any failure degrades to
// FallbackKeywords; the second return value reports whether the model
// reply was used.
func (e *Enricher) Keywords(ctx context.Context, model llm.Completer, query string) (Keywords, bool) {
	query = strings.TrimSpace(query)
	reply, err := model.Complete(ctx, llm.Request{Prompt: KeywordPrompt(query)})
	if err != nil {
		e.log.Warn("keyword expansion failed", "query", query, "error", err)
		return FallbackKeywords(query), false
	}
	raw, err := ExtractJSON(reply)
	if err != nil {
		e.log.Warn("keyword reply has no json", "query", query, "reply", llm.Truncate(reply, 200))
		return FallbackKeywords(query), false
	}
	var kw Keywords
	if err := json.Unmarshal(raw, &kw); err != nil {
		e.log.Warn("keyword reply malformed", "query", query, "error", err)
		return FallbackKeywords(query), false
	}
	kw = kw.normalized()
	if len(kw.All()) == 0 {
		return FallbackKeywords(query), false
	}
	return kw, true
}
