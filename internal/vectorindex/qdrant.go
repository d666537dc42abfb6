package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgallion1/specgest/internal/doctree"
)

// Qdrant talks to a Qdrant server over its REST API. Each schema field is
// a named vector of the collection.
type Qdrant struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
}

func NewQdrant(baseURL, apiKey, collection string) *Qdrant {
	return &Qdrant{
		baseURL:    baseURL,
		apiKey:     apiKey,
		collection: collection,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (q *Qdrant) collectionURL(suffix string) string {
	return q.baseURL + "/collections/" + q.collection + suffix
}

// EnsureSchema creates the collection with one cosine vector per field and
// a keyword index on source_file, unless the collection already exists.
func (q *Qdrant) EnsureSchema(ctx context.Context, dim int) error {
	status, err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("get collection: %w", err)
	}
	if status == http.StatusOK {
		return nil
	}

	vectors := make(map[string]any, len(Fields))
	for _, f := range Fields {
		vectors[string(f)] = map[string]any{"size": dim, "distance": "Cosine"}
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL(""), map[string]any{"vectors": vectors}, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	idx := map[string]any{"field_name": doctree.KeySourceFile, "field_schema": "keyword"}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL("/index?wait=true"), idx, nil); err != nil {
		return fmt.Errorf("create payload index: %w", err)
	}
	return nil
}

type qdrantPoint struct {
	ID      string              `json:"id"`
	Vector  map[Field][]float32 `json:"vector"`
	Payload doctree.Record      `json:"payload"`
}

func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if err := validate(points, 0); err != nil {
		return err
	}
	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}
	for i, p := range points {
		body.Points[i] = qdrantPoint{ID: p.ID, Vector: p.Vectors, Payload: p.Payload}
	}
	if _, err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, field Field, vec []float32, limit int) ([]Hit, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":       map[string]any{"name": string(field), "vector": vec},
		"limit":        limit,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("search %s: %w", field, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(doctree.Record, len(r.Payload))
		for k, v := range r.Payload {
			if s, ok := v.(string); ok {
				payload[k] = s
			}
		}
		hits = append(hits, Hit{
			Record:   Record{ID: fmt.Sprint(r.ID), Payload: payload.Normalize(false)},
			Distance: 1 - r.Score,
		})
	}
	return hits, nil
}

func (q *Qdrant) Delete(ctx context.Context, f Filter) (int, error) {
	filter := map[string]any{
		"must": []map[string]any{
			{"key": doctree.KeySourceFile, "match": map[string]any{"value": f.SourceFile}},
		},
	}

	var count struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	n := -1
	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/count"), map[string]any{"filter": filter, "exact": true}, &count); err == nil {
		n = count.Result.Count
	}

	if _, err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), map[string]any{"filter": filter}, nil); err != nil {
		return 0, fmt.Errorf("delete points: %w", err)
	}
	return n, nil
}

// do sends a JSON request and decodes the response into out when non-nil.
// The HTTP status is returned even when err is set.
func (q *Qdrant) do(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Close releases idle connections.
func (q *Qdrant) Close() {
	q.httpClient.CloseIdleConnections()
}
