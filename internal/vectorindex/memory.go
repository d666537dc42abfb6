package vectorindex

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dgallion1/specgest/internal/doctree"
)

// Memory is a brute-force in-process index.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	points    map[string]Point
}

func NewMemory() *Memory {
	return &Memory{points: make(map[string]Point)}
}

func (m *Memory) EnsureSchema(_ context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid dimension")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dimension = dim
	return nil
}

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validate(points, m.dimension); err != nil {
		return err
	}
	for _, p := range points {
		if _, ok := m.points[p.ID]; !ok {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(_ context.Context, field Field, vec []float32, limit int) ([]Hit, error) {
	if !field.Valid() {
		return nil, errors.New("unknown field " + string(field))
	}
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.order))
	for _, id := range m.order {
		p := m.points[id]
		v, ok := p.Vectors[field]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Record: p.Record, Distance: cosineDistance(vec, v)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Delete(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if m.points[id].Payload[doctree.KeySourceFile] == f.SourceFile {
			delete(m.points, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}
