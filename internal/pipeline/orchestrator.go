package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/specgest/internal/vectorindex"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// cancelWait bounds how long Delete waits for a cancelled job to stop.
const cancelWait = 5 * time.Second

// handle is the cancellation handle of a queued or running job.
type handle struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrator owns the job queue, the worker pool and the per-job cancel
// handles.
type Orchestrator struct {
	jobs      JobStore
	worker    *Worker
	index     vectorindex.Index
	uploadDir string
	log       *slog.Logger

	workerCount int
	queue       chan *handle

	mu      sync.Mutex
	base    context.Context
	stopped bool
	handles map[string]*handle

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(jobs JobStore, worker *Worker, index vectorindex.Index, uploadDir string, log *slog.Logger, workerCount, queueSize int) *Orchestrator {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Orchestrator{
		jobs:        jobs,
		worker:      worker,
		index:       index,
		uploadDir:   uploadDir,
		log:         log,
		workerCount: workerCount,
		queue:       make(chan *handle, queueSize),
		base:        context.Background(),
		handles:     make(map[string]*handle),
	}
}

// Start marks jobs interrupted by a previous run as failed and launches
// worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.base = workerCtx
	o.cancel = cancel
	o.mu.Unlock()

	o.failInterrupted(ctx)

	for range o.workerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case h, ok := <-o.queue:
					if !ok {
						return
					}
					o.run(h)
				}
			}
		}()
	}
}

func (o *Orchestrator) run(h *handle) {
	defer func() {
		o.mu.Lock()
		delete(o.handles, h.id)
		o.mu.Unlock()
		h.cancel()
		close(h.done)
	}()
	o.worker.Process(h.ctx, h.id)
}

// Stop cancels running jobs and waits for workers to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.mu.Unlock()
	o.wg.Wait()
}

// Accept stores an upload under a fresh id and queues it.
func (o *Orchestrator) Accept(ctx context.Context, originalName, model string, r io.Reader) (Job, error) {
	id := uuid.NewString()
	originalName = safeName(originalName)
	filename := id + "_" + originalName

	if err := os.MkdirAll(o.uploadDir, 0o755); err != nil {
		return Job{}, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(o.uploadDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return Job{}, fmt.Errorf("create upload: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return Job{}, fmt.Errorf("save upload: %w", err)
	}

	job := NewJob(id, originalName, filename, model, size)
	if err := o.Submit(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// Submit records job and queues it for processing.
func (o *Orchestrator) Submit(ctx context.Context, job Job) error {
	if err := o.jobs.Put(ctx, job); err != nil {
		return err
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		o.markQueueFailure(ctx, job.ID, "服务正在关闭")
		return errors.New("pipeline stopped")
	}
	jobCtx, cancel := context.WithCancel(o.base)
	h := &handle{id: job.ID, ctx: jobCtx, cancel: cancel, done: make(chan struct{})}
	select {
	case o.queue <- h:
		o.handles[job.ID] = h
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		cancel()
		o.markQueueFailure(ctx, job.ID, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, cap(o.queue))
	}
}

func (o *Orchestrator) markQueueFailure(ctx context.Context, id, reason string) {
	if _, err := o.jobs.Update(ctx, id, func(j *Job) { j.Fail(0, reason) }); err != nil {
		o.log.Warn("mark job failed", "job_id", id, "error", err)
	}
}

// Cancel stops a queued or running job. It reports whether the job was in
// flight.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	h, ok := o.handles[id]
	o.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Delete cancels the job, waits briefly for it to stop, then removes its
// index records, its upload and its record. Index and file cleanup failures
// are logged and do not stop the deletion.
func (o *Orchestrator) Delete(ctx context.Context, id string) (Job, error) {
	job, err := o.jobs.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	log := o.log.With("job_id", id, "file", job.OriginalName)

	o.mu.Lock()
	h, inFlight := o.handles[id]
	o.mu.Unlock()
	if inFlight {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(cancelWait):
			log.Warn("job did not stop in time")
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}

	if n, err := o.index.Delete(ctx, vectorindex.Filter{SourceFile: job.OriginalName}); err != nil {
		log.Error("delete index records", "error", err)
	} else {
		log.Info("deleted index records", "count", n)
	}
	if err := os.Remove(filepath.Join(o.uploadDir, job.Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("delete upload", "error", err)
	}
	if err := o.jobs.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return Job{}, err
	}
	return job, nil
}

// Jobs exposes the job store to API handlers.
func (o *Orchestrator) Jobs() JobStore {
	return o.jobs
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// failInterrupted marks jobs left uploading or processing by a previous
// process as failed; their workers are gone.
func (o *Orchestrator) failInterrupted(ctx context.Context) {
	jobs, err := o.jobs.List(ctx)
	if err != nil {
		o.log.Warn("list jobs at startup", "error", err)
		return
	}
	for _, j := range jobs {
		if !j.Status.Active() {
			continue
		}
		o.markQueueFailure(ctx, j.ID, "处理被中断")
	}
}

// safeName keeps the base name of an upload and drops path separators.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
