// Package server provides the HTTP API over the research pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/avezina/docent/internal/cache"
	"github.com/avezina/docent/internal/model"
	"github.com/avezina/docent/internal/research"
)

// Asker answers one query with cited sources.
type Asker interface {
	Ask(ctx context.Context, query string, opts research.AskOptions) (*model.Answer, error)
}

// Server is the HTTP front of the research pipeline.
type Server struct {
	pipeline Asker
	answers  cache.Cache // nil disables answer caching
	config   model.ServerConfig
	defaults model.PreprocessConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server. defaults supplies the preprocessing mode and
// threshold used when a request does not set its own; answers may be nil.
func NewServer(pipeline Asker, answers cache.Cache, cfg model.ServerConfig, defaults model.PreprocessConfig, logger *zap.Logger) *Server {
	return &Server{
		pipeline: pipeline,
		answers:  answers,
		config:   cfg,
		defaults: defaults,
		logger:   logger,
	}
}

// Router assembles the chi router. Exposed separately so tests can drive
// handlers without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/research", s.handleResearch)
	r.Get("/health", s.handleHealth)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
