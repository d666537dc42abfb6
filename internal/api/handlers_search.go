package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/ranking"
)

const maxSearchLimit = 100

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		jsonError(w, "query parameter is required", http.StatusBadRequest)
		return
	}
	limit := ranking.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxSearchLimit)
	}

	results := s.deps.Ranking.Search(r.Context(), query, limit)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type extractRequest struct {
	Query string `json:"query"`
	Model string `json:"model"`
}

// handleExtractKeywords expands a query into keyword groups. When no model
// is usable the fallback groups are returned with generated=false.
func (s *Server) handleExtractKeywords(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}

	model, err := s.deps.Completers.Get(req.Model)
	if err != nil {
		s.log.Warn("keyword model unavailable", "model", req.Model, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"keywords":  enrich.FallbackKeywords(req.Query),
			"generated": false,
		})
		return
	}
	kw, generated := s.deps.Enricher.Keywords(r.Context(), model, req.Query)
	writeJSON(w, http.StatusOK, map[string]any{
		"keywords":  kw,
		"generated": generated,
	})
}

// filterOptions are the result-filter settings shared by the keyword
// searches.
type filterOptions struct {
	FilterType string  `json:"filter_type"`
	TopN       int     `json:"top_n"`
	Threshold  float64 `json:"threshold"`
}

func (f filterOptions) options() ranking.Options {
	return ranking.Options{
		Mode:      keywordMode(f.FilterType),
		TopN:      f.TopN,
		Threshold: f.Threshold,
	}
}

// keywordMode maps the filter type of the keyword searches. They only
// filter by top-N or by threshold, top-N being the default.
func keywordMode(s string) ranking.Mode {
	if ranking.ParseMode(s) == ranking.ModeThreshold {
		return ranking.ModeThreshold
	}
	return ranking.ModeTopN
}

type keywordSearchRequest struct {
	Keywords []string `json:"keywords"`
	filterOptions
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	var req keywordSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	keywords := nonBlank(req.Keywords)
	if len(keywords) == 0 {
		jsonError(w, "at least one keyword is required", http.StatusBadRequest)
		return
	}

	results := s.deps.Ranking.SearchByKeywords(r.Context(), keywords, req.options())
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type settingsSearchRequest struct {
	Query    string   `json:"query"`
	Keywords []string `json:"keywords"`
	filterOptions
}

func (s *Server) handleSettingsSearch(w http.ResponseWriter, r *http.Request) {
	var req settingsSearchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	keywords := nonBlank(req.Keywords)
	if len(keywords) == 0 {
		jsonError(w, "at least one keyword is required", http.StatusBadRequest)
		return
	}

	results := s.deps.Ranking.SearchWithKeywords(r.Context(), req.Query, keywords, req.options())
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decodeBody reads a JSON request body, writing a 400 when it is malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
