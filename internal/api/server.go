package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arkline/escrowd/internal/api/handler"
	mw "github.com/arkline/escrowd/internal/api/middleware"
	"github.com/arkline/escrowd/internal/config"
	"github.com/arkline/escrowd/internal/core"
	"github.com/arkline/escrowd/internal/manifest"
	"github.com/arkline/escrowd/internal/webhook"
)

type Server struct {
	router    chi.Router
	logger    zerolog.Logger
	services  *core.Services
	pool      *pgxpool.Pool
	cfg       *config.Config
	chains    *config.ChainRegistry
	manifests *manifest.Store
	signer    *webhook.Signer
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, cfg *config.Config, chains *config.ChainRegistry, manifests *manifest.Store, signer *webhook.Signer) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger,
		services:  core.NewServices(pool),
		pool:      pool,
		cfg:       cfg,
		chains:    chains,
		manifests: manifests,
		signer:    signer,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/v1", func(r chi.Router) {
		// Inbound oracle events authenticate via payload signature, and
		// the job event stream via a token query param, so both live
		// outside the API-key group.
		receiver := handler.NewWebhookReceiver(s.services.Job, s.signer)
		r.Post("/webhooks", receiver.Receive)

		events := handler.NewEvents(s.services.Job, s.pool)
		r.Get("/jobs/{id}/events", events.Stream)

		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.pool))

			job := handler.NewJob(s.services.Job, s.manifests, s.chains)
			r.Get("/jobs", job.List)
			r.Post("/jobs", job.Create)
			r.Get("/jobs/{id}", job.Get)
			r.Post("/jobs/{id}/cancel", job.Cancel)

			dashboard := handler.NewDashboard(s.services.Dashboard)
			r.Get("/dashboard/stats", dashboard.Stats)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.pool.Ping(ctx); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
