package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
	"github.com/eldtechnologies/liveagent/internal/api/middleware"
	"github.com/eldtechnologies/liveagent/internal/handlers"
)

// Options configures the local status server.
type Options struct {
	Version     string
	CORSOrigins []string
}

// NewRouter creates the status server router for one chat session.
func NewRouter(logger zerolog.Logger, session handlers.Session, backend liveagent.Backend, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(1024))
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS so the embedding page can read session state
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(session, backend, opts.Version)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/suspend", h.SuspendSession)
		r.Post("/resume", h.ResumeSession)
		r.Post("/typing", h.SetTyping)
	})

	return r
}
