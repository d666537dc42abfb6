package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/specgest/internal/config"
)

const maskMarker = "****"

// maskKey keeps the first and last four characters of an API key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return maskMarker
	}
	return key[:4] + maskMarker + key[len(key)-4:]
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.deps.Registry.List()
	for i := range models {
		models[i].APIKey = maskKey(models[i].APIKey)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  models,
		"default": s.deps.Registry.DefaultKey(),
	})
}

type modelRequest struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url"`
	ModelType string `json:"model_type"`
	Provider  string `json:"provider"`
}

// handlePutModel adds or replaces a registry entry. An empty or masked
// api_key keeps the stored key.
func (s *Server) handlePutModel(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	var req modelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if key == "" {
		jsonError(w, "model key is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.BaseURL) == "" {
		jsonError(w, "base_url is required", http.StatusBadRequest)
		return
	}

	model := config.Model{
		Key:       key,
		APIKey:    req.APIKey,
		BaseURL:   strings.TrimSpace(req.BaseURL),
		ModelType: strings.TrimSpace(req.ModelType),
		Provider:  strings.TrimSpace(req.Provider),
	}
	if model.APIKey == "" || strings.Contains(model.APIKey, maskMarker) {
		if old, ok := s.deps.Registry.Get(key); ok {
			model.APIKey = old.APIKey
		}
	}
	if err := s.deps.Registry.Put(model); err != nil {
		jsonError(w, "save model: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("model saved", "key", key, "base_url", model.BaseURL)

	model.APIKey = maskKey(model.APIKey)
	writeJSON(w, http.StatusOK, model)
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	err := s.deps.Registry.Delete(key)
	if errors.Is(err, config.ErrModelNotFound) {
		jsonError(w, "model not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "delete model: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("model deleted", "key", key)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
