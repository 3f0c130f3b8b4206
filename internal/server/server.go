// Package server is the HTTP surface of weft: the control plane workers
// claim jobs and report results through, the read plane UIs consume,
// and the Prometheus metrics endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weft-run/weft/internal/config"
	"github.com/weft-run/weft/internal/events"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/logstore"
	"github.com/weft-run/weft/internal/persistence"
	"github.com/weft-run/weft/internal/workflow"
	"github.com/weft-run/weft/internal/workspace"
)

// Params are the collaborators the server routes requests to.
type Params struct {
	Config    config.Server
	LogFormat string
	Store     persistence.Store
	Holder    *workflow.Holder
	Manager   *workspace.Manager
	Hub       *events.Hub
	Archive   *logstore.Archive
	// Registry receives request-level metrics and serves /metrics.
	// Optional; a private registry is created when nil.
	Registry *prometheus.Registry
}

// Server routes the control plane, the read plane and /metrics.
type Server struct {
	cfg       config.Server
	logFormat string
	store     persistence.Store
	holder    *workflow.Holder
	manager   *workspace.Manager
	hub       *events.Hub
	archive   *logstore.Archive
	registry  *prometheus.Registry

	httpServer *http.Server
}

// New assembles a server from its collaborators.
func New(p Params) *Server {
	registry := p.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Server{
		cfg:       p.Config,
		logFormat: p.LogFormat,
		store:     p.Store,
		holder:    p.Holder,
		manager:   p.Manager,
		hub:       p.Hub,
		archive:   p.Archive,
		registry:  registry,
	}
}

// Serve listens on the configured address and blocks until ctx is
// cancelled or a termination signal arrives, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		Addr:              s.cfg.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info(ctx, "Server is starting", tag.String("addr", s.cfg.Addr()))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", tag.Error(err))
		}
	}()

	s.gracefulShutdown(ctx)
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		logger.Info(ctx, "Server is shutting down", tag.String("addr", s.httpServer.Addr))
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) gracefulShutdown(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "Context done, shutting down server")
	case <-quit:
		logger.Info(ctx, "Received shutdown signal")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.httpServer.SetKeepAlivesEnabled(false)
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error(ctx, "Failed to shutdown server", tag.Error(err))
	}

	logger.Info(ctx, "Server shutdown complete")
}

// routes builds the full handler tree with the shared middleware stack.
func (s *Server) routes() http.Handler {
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             s.logFormat == "json",
		Concise:          true,
		RequestHeaders:   true,
		MessageFieldName: "msg",
		ResponseHeaders:  true,
	})

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(withRecoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Control plane. Workers live on a trusted network; the shared
	// token is still checked when one is configured.
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/jobs", s.handleEnqueue)
		r.Get("/jobs/next", s.handleClaim)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Post("/start", s.handleJobStart)
			r.Post("/results", s.handleJobResult)
			r.Post("/logs", s.handleJobLogs)
			r.Route("/steps/{stepName}", func(r chi.Router) {
				r.Post("/start", s.handleStepStart)
				r.Post("/results", s.handleStepResult)
				r.Post("/logs", s.handleStepLogs)
			})
		})
		r.Head("/files/workspace.tar.gz", s.handleWorkspaceTarball)
		r.Get("/files/workspace.tar.gz", s.handleWorkspaceTarball)
	})

	// Read plane.
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{taskName}", s.handleGetTask)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/logs", s.handleGetJobLogs)
		r.Get("/jobs/{jobID}/steps/{stepName}/logs", s.handleGetStepLogs)
		r.Get("/jobs/{jobID}/sse", s.handleJobEvents)
		r.Post("/run", s.handleRun)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	})

	return r
}

// This function is adapted from the `recoverer` middleware from the `chi` package.
func withRecoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				st := string(debug.Stack())
				logger.Error(r.Context(), "Panic occurred", tag.Error(rvr), tag.String("st", st))

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}
