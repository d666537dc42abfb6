package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/llm"
)

type chatRequest struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Model    string `json:"model"`
}

type chatFrame struct {
	Success bool   `json:"success,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleChatStream answers a question over the supplied context as
// server-sent events, one frame per model delta, ending with [DONE].
// Failures after the stream has started are sent as an error frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		jsonError(w, "question is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	model, err := s.deps.Completers.Get(req.Model)
	if err != nil {
		jsonError(w, "model unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(f chatFrame) error {
		if err := writeFrame(w, f); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err = model.Stream(r.Context(), llm.Request{Prompt: enrich.ChatPrompt(req.Context, req.Question)}, func(delta string) error {
		if delta == "" {
			return nil
		}
		return send(chatFrame{Success: true, Content: delta})
	})
	if err != nil {
		if r.Context().Err() == nil {
			s.log.Error("chat stream failed", "model", req.Model, "error", err)
			send(chatFrame{Error: err.Error()})
		}
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeFrame(w http.ResponseWriter, f chatFrame) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(f); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", bytes.TrimRight(buf.Bytes(), "\n"))
	return err
}
