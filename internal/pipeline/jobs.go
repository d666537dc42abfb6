package pipeline

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/specgest/internal/doctree"
)

// ErrNotFound is returned by job stores for unknown ids.
var ErrNotFound = errors.New("job not found")

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	StatusUploading  JobStatus = "uploading"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Active reports whether the job is still queued or running.
func (s JobStatus) Active() bool {
	return s == StatusUploading || s == StatusProcessing
}

// TotalSteps is the number of processing phases a job goes through.
const TotalSteps = 5

// Steps is the progress shown while a document is processed.
type Steps struct {
	Current     int    `json:"current_step"`
	Total       int    `json:"total_steps"`
	Description string `json:"description"`
}

// Job is the record of one uploaded document.
type Job struct {
	ID           string          `json:"id"`
	OriginalName string          `json:"original_name"`
	Filename     string          `json:"filename"`
	UploadDate   time.Time       `json:"upload_date"`
	FileSize     int64           `json:"file_size"`
	ChunksCount  int             `json:"chunks_count"`
	Status       JobStatus       `json:"status"`
	Model        string          `json:"model,omitempty"`
	Markdown     string          `json:"md_content"`
	Chunks       []doctree.Chunk `json:"chunks"`
	Steps        Steps           `json:"processing_steps"`
	Error        string          `json:"error,omitempty"`
	ContentHash  string          `json:"content_hash,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewJob creates the record of a freshly stored upload.
func NewJob(id, originalName, filename, model string, size int64) Job {
	now := time.Now().UTC()
	return Job{
		ID:           id,
		OriginalName: originalName,
		Filename:     filename,
		UploadDate:   now,
		FileSize:     size,
		Status:       StatusUploading,
		Model:        model,
		Chunks:       []doctree.Chunk{},
		Steps:        Steps{Current: 0, Total: TotalSteps, Description: "等待处理..."},
		UpdatedAt:    now,
	}
}

// SetStatus updates status and progress together.
func (j *Job) SetStatus(status JobStatus, step int, description string) {
	j.Status = status
	j.Steps = Steps{Current: step, Total: TotalSteps, Description: description}
	j.UpdatedAt = time.Now().UTC()
}

// Fail marks the job failed with a reason.
func (j *Job) Fail(step int, reason string) {
	j.SetStatus(StatusFailed, step, reason)
	j.Error = reason
}

// Summary is the list view of a job.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Date        string    `json:"date"`
	Size        string    `json:"size"`
	Status      JobStatus `json:"status"`
	FileURL     string    `json:"fileUrl"`
	ChunksCount int       `json:"chunksCount"`
	UploadDate  time.Time `json:"upload_date"`
}

func (j Job) Summary() Summary {
	return Summary{
		ID:          j.ID,
		Name:        j.OriginalName,
		Date:        j.UploadDate.Format("2006-01-02"),
		Size:        fmt.Sprintf("%.1f MB", float64(j.FileSize)/1024/1024),
		Status:      j.Status,
		FileURL:     "/uploads/" + j.Filename,
		ChunksCount: j.ChunksCount,
		UploadDate:  j.UploadDate,
	}
}

// Progress is the in-flight view of a job.
type Progress struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Status JobStatus `json:"status"`
	Steps  Steps     `json:"processing_steps"`
}

func (j Job) Progress() Progress {
	return Progress{ID: j.ID, Name: j.OriginalName, Status: j.Status, Steps: j.Steps}
}

// JobStore persists job records. Writers are assumed to be one per job.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	// Update applies fn to the stored job and saves the result.
	Update(ctx context.Context, id string, fn func(*Job)) (Job, error)
	// List returns every job, newest upload first.
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a thread-safe in-process JobStore.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

func (s *MemoryStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	job = cloneJob(job)
	fn(&job)
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Job, error) {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	s.mu.Unlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func cloneJob(j Job) Job {
	j.Chunks = append([]doctree.Chunk(nil), j.Chunks...)
	if j.Chunks == nil {
		j.Chunks = []doctree.Chunk{}
	}
	return j
}

func sortNewestFirst(jobs []Job) {
	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].UploadDate.Equal(jobs[b].UploadDate) {
			return jobs[a].UploadDate.After(jobs[b].UploadDate)
		}
		return jobs[a].ID < jobs[b].ID
	})
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
