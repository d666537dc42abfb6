package llm

import (
	"context"
	"sort"
	"sync"
	"time"
)

type sample struct {
	timestamp  time.Time
	model      string
	durationMs int64
	failed     bool
}

// StatsSnapshot is a point-in-time aggregate of completion latencies.
type StatsSnapshot struct {
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Report is the overall snapshot plus one per model key.
type Report struct {
	Overall StatsSnapshot            `json:"overall"`
	Models  map[string]StatsSnapshot `json:"models"`
}

// Stats tracks recent completion latencies within a rolling window.
type Stats struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one call. Negative durations count as zero.
func (s *Stats) Record(model string, d time.Duration, failed bool) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)
	s.samples = append(s.samples, sample{timestamp: now, model: model, durationMs: ms, failed: failed})
}

func (s *Stats) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())
	byModel := make(map[string][]sample)
	for _, sm := range s.samples {
		byModel[sm.model] = append(byModel[sm.model], sm)
	}
	rep := Report{Overall: aggregate(s.samples), Models: make(map[string]StatsSnapshot, len(byModel))}
	for m, ss := range byModel {
		rep.Models[m] = aggregate(ss)
	}
	return rep
}

func aggregate(samples []sample) StatsSnapshot {
	if len(samples) == 0 {
		return StatsSnapshot{}
	}
	values := make([]int64, 0, len(samples))
	var (
		sum      int64
		failures int
	)
	for _, sm := range samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		if sm.failed {
			failures++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return StatsSnapshot{
		Count:  len(values),
		Errors: failures,
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		AvgMs:  float64(sum) / float64(len(values)),
		P50Ms:  percentile(values, 50),
		P95Ms:  percentile(values, 95),
		P99Ms:  percentile(values, 99),
	}
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.maxAge)
	writeIdx := 0
	for _, sm := range s.samples {
		if !sm.timestamp.Before(cutoff) {
			s.samples[writeIdx] = sm
			writeIdx++
		}
	}
	s.samples = s.samples[:writeIdx]
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(sortedValues []int64, pct float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sortedValues[0])
	}
	if pct >= 100 {
		return float64(sortedValues[len(sortedValues)-1])
	}

	index := (float64(len(sortedValues)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return float64(sortedValues[lower])
	}
	weight := index - float64(lower)
	lo := float64(sortedValues[lower])
	hi := float64(sortedValues[upper])
	return lo + ((hi - lo) * weight)
}

// timed records the latency of every call made through it.
type timed struct {
	next  Completer
	model string
	stats *Stats
}

// WithStats wraps c so each call is recorded under model.
func WithStats(c Completer, model string, stats *Stats) Completer {
	if stats == nil {
		return c
	}
	return &timed{next: c, model: model, stats: stats}
}

func (t *timed) Complete(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	out, err := t.next.Complete(ctx, req)
	t.stats.Record(t.model, time.Since(start), err != nil)
	return out, err
}

func (t *timed) Stream(ctx context.Context, req Request, onDelta func(string) error) error {
	start := time.Now()
	err := t.next.Stream(ctx, req, onDelta)
	t.stats.Record(t.model, time.Since(start), err != nil)
	return err
}
