// Package server exposes the HTTP API: job lookup, exception review,
// ledger operations, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridian-benefits/claimflow/internal/ledger"
	"github.com/meridian-benefits/claimflow/internal/pipeline"
	"github.com/meridian-benefits/claimflow/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP API front end.
type Server struct {
	port       int
	httpServer *http.Server
	log        *zap.Logger
}

// New builds the server and its routes.
func New(port int, st store.Store, runner *pipeline.Runner, lw *ledger.Writer) *Server {
	s := &Server{
		port: port,
		log:  zap.L().With(zap.String("component", "server")),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	h := &handlers{store: st, runner: runner, ledger: lw, log: s.log}

	router.Get("/health", h.health)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{id}", h.getJob)
		r.Get("/exceptions", h.listExceptions)
		r.Post("/exceptions/{id}/approve", h.approveException)
		r.Get("/ledger", h.ledgerStatus)
		r.Post("/ledger/flush", h.ledgerFlush)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		s.log.Info("server terminated")
	}()

	s.log.Info("serving api", zap.Int("port", s.port))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
