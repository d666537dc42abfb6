package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dgallion1/specgest/internal/config"
	"github.com/dgallion1/specgest/internal/enrich"
	"github.com/dgallion1/specgest/internal/llm"
	"github.com/dgallion1/specgest/internal/pipeline"
	"github.com/dgallion1/specgest/internal/ranking"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Ranking      *ranking.Engine
	Enricher     *enrich.Enricher
	// Completers hands out a model per request key; "" is the default.
	Completers pipeline.Models
	Registry   *config.Models
	Stats      *llm.Stats
}

// Server is the HTTP API server for specgest.
type Server struct {
	router chi.Router
	deps   Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(deps Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		deps: deps,
		log:  log,
		cfg:  cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Route("/api/documents", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Post("/batch", s.handleBatchUpload)
			r.Get("/", s.handleListDocuments)
			r.Get("/{docID}", s.handleGetDocument)
			r.Get("/{docID}/markdown", s.handleGetMarkdown)
			r.Get("/{docID}/explanations", s.handleGetExplanations)
			r.Delete("/{docID}", s.handleDeleteDocument)
		})
		r.Get("/api/explanations/{sourceFile}", s.handleExplanationsBySource)
		r.Get("/api/processing-status", s.handleProcessingStatus)

		r.Get("/api/search", s.handleSearch)
		r.Post("/api/search/keywords/extract", s.handleExtractKeywords)
		r.Post("/api/search/keywords", s.handleKeywordSearch)
		r.Post("/api/search/settings", s.handleSettingsSearch)

		r.Post("/api/chat/stream", s.handleChatStream)

		r.Get("/api/models", s.handleListModels)
		r.Put("/api/models/{key}", s.handlePutModel)
		r.Delete("/api/models/{key}", s.handleDeleteModel)

		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.UploadDir()))))
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
