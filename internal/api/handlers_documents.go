package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/specgest/internal/chunker"
	"github.com/dgallion1/specgest/internal/convert"
	"github.com/dgallion1/specgest/internal/doctree"
	"github.com/dgallion1/specgest/internal/pipeline"
)

// uploadError carries the HTTP status an upload failure maps to.
type uploadError struct {
	code int
	msg  string
}

func (e *uploadError) Error() string { return e.msg }

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Extra 1MB for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}

	model := r.FormValue("model")
	job, err := s.accept(r.Context(), files[0], model)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			jsonError(w, ue.msg, ue.code)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":  true,
		"message":  "文件上传成功，正在后台处理中...",
		"file_id":  job.ID,
		"filename": job.Filename,
		"status":   job.Status,
	})
}

func (s *Server) handleBatchUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10<<20)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	model := r.FormValue("model")
	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		if fh.Filename == "" {
			continue
		}
		job, err := s.accept(r.Context(), fh, model)
		if err != nil {
			results = append(results, map[string]any{
				"filename": fh.Filename,
				"success":  false,
				"error":    err.Error(),
			})
			continue
		}
		results = append(results, map[string]any{
			"filename": job.OriginalName,
			"success":  true,
			"file_id":  job.ID,
			"status":   job.Status,
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

// accept validates one uploaded file and hands it to the pipeline.
func (s *Server) accept(ctx context.Context, fh *multipart.FileHeader, model string) (pipeline.Job, error) {
	if !convert.IsSupported(fh.Filename) {
		return pipeline.Job{}, &uploadError{
			code: http.StatusBadRequest,
			msg:  fmt.Sprintf("unsupported file type: %s", filepath.Ext(fh.Filename)),
		}
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return pipeline.Job{}, &uploadError{
			code: http.StatusRequestEntityTooLarge,
			msg:  fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes),
		}
	}
	if model != "" && s.deps.Registry != nil {
		if _, ok := s.deps.Registry.Get(model); !ok {
			return pipeline.Job{}, &uploadError{code: http.StatusBadRequest, msg: "unknown model: " + model}
		}
	}

	f, err := fh.Open()
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	job, err := s.deps.Orchestrator.Accept(ctx, fh.Filename, model, f)
	if errors.Is(err, pipeline.ErrQueueFull) {
		return job, &uploadError{code: http.StatusServiceUnavailable, msg: err.Error()}
	}
	if err != nil {
		return job, err
	}
	s.log.Info("upload accepted", "job_id", job.ID, "file", job.OriginalName, "size", job.FileSize)
	return job, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Orchestrator.Jobs().List(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	docs := make([]pipeline.Summary, 0, len(jobs))
	for _, j := range jobs {
		docs = append(docs, j.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// loadJob fetches the job named by the docID URL parameter, writing the
// error response itself when it fails.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (pipeline.Job, bool) {
	job, err := s.deps.Orchestrator.Jobs().Get(r.Context(), chi.URLParam(r, "docID"))
	if errors.Is(err, pipeline.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return job, false
	}
	if err != nil {
		jsonError(w, "failed to load document: "+err.Error(), http.StatusInternalServerError)
		return job, false
	}
	return job, true
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetMarkdown(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"markdown": job.Markdown})
}

func (s *Server) handleGetExplanations(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"file_id":           job.ID,
		"explanation_pairs": pairsOf(job.Chunks),
	})
}

// handleExplanationsBySource finds the newest document whose original name,
// with or without its extension, equals sourceFile.
func (s *Server) handleExplanationsBySource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "sourceFile")
	jobs, err := s.deps.Orchestrator.Jobs().List(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for _, j := range jobs {
		if !matchesSource(j.OriginalName, source) {
			continue
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source_file":       source,
			"file_id":           j.ID,
			"explanation_pairs": pairsOf(j.Chunks),
		})
		return
	}
	jsonError(w, "source file not found", http.StatusNotFound)
}

func matchesSource(originalName, source string) bool {
	if source == "" {
		return false
	}
	return originalName == source || strings.TrimSuffix(originalName, filepath.Ext(originalName)) == source
}

func pairsOf(chunks []doctree.Chunk) []doctree.ExplanationPair {
	pairs := chunker.MatchPairs(chunks)
	if pairs == nil {
		pairs = []doctree.ExplanationPair{}
	}
	return pairs
}

func (s *Server) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Orchestrator.Jobs().List(r.Context())
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	active := make([]pipeline.Progress, 0)
	for _, j := range jobs {
		if j.Status.Active() {
			active = append(active, j.Progress())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processing_files": active,
		"queue_depth":      s.deps.Orchestrator.QueueDepth(),
	})
}

// handleDeleteDocument stops any processing of the document, then removes
// its index records, upload and record.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	job, err := s.deps.Orchestrator.Delete(r.Context(), docID)
	if errors.Is(err, pipeline.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "delete failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("文件 %s 及相关数据已删除", job.OriginalName),
	})
}
