package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doppelhq/doppel/internal/chat"
	"github.com/doppelhq/doppel/internal/memory"
	"github.com/doppelhq/doppel/internal/store"
)

// defaultOwner scopes requests that carry no owner id. The server is
// single-tenant by default; multi-tenant callers pass ownerId explicitly.
const defaultOwner = "default"

// Server is the doppel HTTP API server.
type Server struct {
	db       *store.DB
	memories *memory.Manager
	pipeline *chat.Pipeline
	router   chi.Router
	version  string
	started  time.Time
}

// New creates a new Server. pipeline may be nil when no generation backend
// is configured; the chat route then reports 503.
func New(db *store.DB, memories *memory.Manager, pipeline *chat.Pipeline, version string) *Server {
	s := &Server{
		db:       db,
		memories: memories,
		pipeline: pipeline,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/chat", s.handleChat)

		r.Post("/memories", s.handleCreateMemory)
		r.Get("/memories", s.handleRecentMemories)
		r.Get("/memories/search", s.handleSearchMemories)
		r.Delete("/memories/{memoryID}", s.handleDeleteMemory)

		r.Get("/insights", s.handleListInsights)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func ownerFrom(r *http.Request, bodyOwner string) string {
	if bodyOwner != "" {
		return bodyOwner
	}
	if q := r.URL.Query().Get("ownerId"); q != "" {
		return q
	}
	return defaultOwner
}
