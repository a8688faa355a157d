// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry implements the session registry HTTP API.
package registry

import (
	_ "embed"
	"mime"
	"net/http"

	"github.com/ManuGH/distvote/internal/health"
	"github.com/ManuGH/distvote/internal/registry/middleware"
	"github.com/ManuGH/distvote/internal/session/store"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// OpenAPIDocument returns the embedded API description.
func OpenAPIDocument() []byte { return openAPIDocument }

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Options configures the HTTP surface.
type Options struct {
	// TracingService names the tracer; empty disables tracing.
	TracingService string
	// RateLimit may be nil to disable limiting.
	RateLimit *middleware.DynamicRateLimit
	// DisableMetrics turns off the HTTP metrics middleware.
	DisableMetrics bool
}

// Server serves the registry API on top of a session store.
type Server struct {
	store  store.Store
	health *health.Manager
	router chi.Router
}

// NewServer builds the router. The store is used as-is; wrap it with a
// CachedStore before passing it in to enable caching.
func NewServer(st store.Store, hm *health.Manager, opts Options) *Server {
	if hm == nil {
		hm = health.NewManager("")
	}
	s := &Server{store: st, health: hm}
	s.router = s.routes(opts)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// HealthManager exposes the readiness registry so callers can add checks.
func (s *Server) HealthManager() *health.Manager { return s.health }

func (s *Server) routes(opts Options) chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  !opts.DisableMetrics,
		TracingService: opts.TracingService,
		EnableLogging:  true,
		RateLimit:      opts.RateLimit,
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" is not supported here")
	})

	r.Get("/ping", s.handlePing)
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/openapi.yaml", s.handleOpenAPI)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Get("/all", s.handleListSessionIDs)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)

		r.Group(func(r chi.Router) {
			r.Use(requireJSON)
			r.Use(chimw.RequestSize(maxBodyBytes))
			r.Post("/", s.handleCreateSession)
			r.Patch("/{id}", s.handleUpdateSession)
		})
	})

	return r
}

// requireJSON answers 415 unless the body is declared as application/json.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			writeError(w, r, http.StatusUnsupportedMediaType, codeUnsupported, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}
