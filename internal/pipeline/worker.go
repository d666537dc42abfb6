package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/specgest/internal/chunker"
	"github.com/dgallion1/specgest/internal/convert"
	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/embedding"
	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/llm"
	"github.com/dgallion1/specgest/internal/vectorindex"
)

// Models hands out completers by registry key; "" is the default model.
type Models interface {
	Get(key string) (llm.Completer, error)
}

// WorkerConfig holds the tunables of document processing.
type WorkerConfig struct {
	UploadDir           string
	MinChunkChars       int
	MaxConcurrentEnrich int
	EnrichTimeout       time.Duration
	Convert             convert.Options
}

const upsertBatch = 64

// Worker runs the five processing phases for one job.
type Worker struct {
	jobs     JobStore
	models   Models
	enricher *enrich.Enricher
	embedder embedding.Embedder
	index    vectorindex.Index
	log      *slog.Logger
	cfg      WorkerConfig

	backoff func(int) time.Duration
	newID   func() string
}

func NewWorker(jobs JobStore, models Models, enricher *enrich.Enricher, embedder embedding.Embedder, index vectorindex.Index, log *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.MaxConcurrentEnrich <= 0 {
		cfg.MaxConcurrentEnrich = 4
	}
	if cfg.EnrichTimeout <= 0 {
		cfg.EnrichTimeout = 2 * time.Minute
	}
	return &Worker{
		jobs:     jobs,
		models:   models,
		enricher: enricher,
		embedder: embedder,
		index:    index,
		log:      log,
		cfg:      cfg,
		backoff:  Backoff,
		newID:    uuid.NewString,
	}
}

// Process runs the full ingest pipeline for a job. Cancelling ctx stops it
// between phases and between chunk enrichments.
func (w *Worker) Process(ctx context.Context, id string) {
	log := w.log.With("job_id", id)
	// Status writes must land even after ctx is cancelled.
	store := context.WithoutCancel(ctx)

	job, err := w.jobs.Get(store, id)
	if err != nil {
		log.Error("load job", "error", err)
		return
	}
	log = log.With("file", job.OriginalName)

	if w.stopped(ctx, store, id, log) {
		return
	}

	// Phase 1: validate
	w.update(store, id, log, func(j *Job) { j.SetStatus(StatusProcessing, 1, "文件验证中...") })
	path := filepath.Join(w.cfg.UploadDir, job.Filename)
	if _, err := os.Stat(path); err != nil {
		w.fail(store, id, log, 1, "文件不存在", err)
		return
	}
	conv, err := convert.ForFile(job.OriginalName, w.cfg.Convert)
	if err != nil {
		w.fail(store, id, log, 1, "不支持的文件类型", err)
		return
	}
	if w.stopped(ctx, store, id, log) {
		return
	}

	// Phase 2: convert
	w.update(store, id, log, func(j *Job) { j.SetStatus(StatusProcessing, 2, "文档转换中...") })
	text, err := w.convertFile(ctx, conv, path, job.OriginalName)
	if ctx.Err() != nil {
		w.cancelled(store, id, log)
		return
	}
	if err != nil {
		w.fail(store, id, log, 2, "文档转换失败: "+err.Error(), err)
		return
	}
	if strings.TrimSpace(text) == "" {
		w.fail(store, id, log, 2, "文档转换结果为空", nil)
		return
	}
	hash := ContentHashHex([]byte(text))
	w.update(store, id, log, func(j *Job) {
		j.Markdown = text
		j.ContentHash = hash
	})

	// Phase 3: chunk
	w.update(store, id, log, func(j *Job) { j.SetStatus(StatusProcessing, 3, "内容切片中...") })
	chunks := chunker.Chunk(text, w.cfg.MinChunkChars)
	if len(chunks) == 0 {
		w.fail(store, id, log, 3, "no extractable content", nil)
		return
	}
	if dups := chunker.DuplicateSections(chunks); len(dups) > 0 {
		log.Warn("duplicate sections, later chunks win when pairing", "sections", dups)
	}
	log.Info("chunked document", "chunks", len(chunks))
	if w.stopped(ctx, store, id, log) {
		return
	}

	// Phase 4: enrich
	chunks = w.enrichAll(ctx, store, job, chunks, log)
	if w.stopped(ctx, store, id, log) {
		return
	}

	// Phase 5: index
	w.update(store, id, log, func(j *Job) {
		j.SetStatus(StatusProcessing, 5, fmt.Sprintf("存储到向量库 (%d chunks)...", len(chunks)))
	})
	if err := w.indexChunks(ctx, job.OriginalName, chunks); err != nil {
		if ctx.Err() != nil {
			w.cancelled(store, id, log)
			return
		}
		w.fail(store, id, log, 5, "存储到向量库失败: "+err.Error(), err)
		return
	}

	w.update(store, id, log, func(j *Job) {
		j.Chunks = chunks
		j.ChunksCount = len(chunks)
		j.Error = ""
		j.SetStatus(StatusCompleted, TotalSteps, "处理完成")
	})
	log.Info("document processed", "chunks", len(chunks))
}

func (w *Worker) convertFile(ctx context.Context, conv convert.Converter, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return conv.Convert(ctx, f, name)
}

// enrichAll fills questions and tags with bounded concurrency. A chunk whose
// enrichment fails keeps empty fields.
func (w *Worker) enrichAll(ctx, store context.Context, job Job, chunks []doctree.Chunk, log *slog.Logger) []doctree.Chunk {
	total := len(chunks)
	w.update(store, job.ID, log, func(j *Job) {
		j.SetStatus(StatusProcessing, 4, fmt.Sprintf("生成问题与标签 (0/%d)...", total))
	})

	model, err := w.models.Get(job.Model)
	if err != nil {
		log.Warn("no language model, skipping enrichment", "model", job.Model, "error", err)
		return chunks
	}

	out := make([]doctree.Chunk, total)
	copy(out, chunks)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrentEnrich)
	for i := range out {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			var enr doctree.Enrichment
			err := withRetry(gctx, w.backoff, func() error {
				cctx, cancel := context.WithTimeout(gctx, w.cfg.EnrichTimeout)
				defer cancel()
				var err error
				enr, err = w.enricher.Chunk(cctx, model, out[i])
				return err
			})
			if err != nil {
				if gctx.Err() == nil {
					log.Warn("enrichment failed", "section", out[i].Section, "error", err)
				}
				enr = doctree.Enrichment{}
			}
			out[i] = out[i].WithEnrichment(enr)

			n := done.Add(1)
			w.update(store, job.ID, log, func(j *Job) {
				j.Steps.Description = fmt.Sprintf("生成问题与标签 (%d/%d)...", n, total)
			})
			return nil
		})
	}
	g.Wait()
	return out
}

// indexChunks replaces every record of sourceFile with the given chunks.
func (w *Worker) indexChunks(ctx context.Context, sourceFile string, chunks []doctree.Chunk) error {
	if _, err := w.index.Delete(ctx, vectorindex.Filter{SourceFile: sourceFile}); err != nil {
		return fmt.Errorf("clear previous records: %w", err)
	}

	source := doctree.NewSourceInfo(sourceFile).ToRecord()
	batch := make([]vectorindex.Point, 0, upsertBatch)
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := doctree.MergeRecords(c.ToRecord(), source)
		vectors := make(map[vectorindex.Field][]float32, len(vectorindex.Fields))
		for _, f := range vectorindex.Fields {
			vec, err := w.embedder.Embed(ctx, payload[f.SourceKey()])
			if err != nil {
				return fmt.Errorf("embed %s of section %s: %w", f, c.Section, err)
			}
			vectors[f] = vec
		}
		batch = append(batch, vectorindex.Point{
			Record:  vectorindex.Record{ID: w.newID(), Payload: payload},
			Vectors: vectors,
		})
		if len(batch) == upsertBatch {
			if err := w.index.Upsert(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return w.index.Upsert(ctx, batch)
	}
	return nil
}

func (w *Worker) update(ctx context.Context, id string, log *slog.Logger, fn func(*Job)) {
	if _, err := w.jobs.Update(ctx, id, fn); err != nil {
		log.Warn("update job", "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, id string, log *slog.Logger, step int, reason string, err error) {
	log.Error("processing failed", "step", step, "reason", reason, "error", err)
	w.update(ctx, id, log, func(j *Job) { j.Fail(step, reason) })
}

func (w *Worker) cancelled(ctx context.Context, id string, log *slog.Logger) {
	log.Info("processing cancelled")
	w.update(ctx, id, log, func(j *Job) { j.SetStatus(StatusCancelled, j.Steps.Current, "处理已取消") })
}

// stopped marks the job cancelled when ctx is done.
func (w *Worker) stopped(ctx, store context.Context, id string, log *slog.Logger) bool {
	if ctx.Err() == nil {
		return false
	}
	w.cancelled(store, id, log)
	return true
}
