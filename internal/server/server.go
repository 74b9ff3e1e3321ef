// Package server provides the HTTP API for vecdex.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/config"
	"github.com/hyperjump/vecdex/internal/ingest"
	"github.com/hyperjump/vecdex/internal/search"
	"github.com/hyperjump/vecdex/internal/source"
)

// Server is the HTTP server for the vecdex API.
type Server struct {
	registry    *client.Registry
	coordinator *ingest.Coordinator
	searcher    *search.Service
	source      source.DocumentSource
	config      *config.ServerConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies. src may be nil
// when no document source is configured; refresh then returns 501.
func NewServer(
	reg *client.Registry,
	coord *ingest.Coordinator,
	searcher *search.Service,
	src source.DocumentSource,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:    reg,
		coordinator: coord,
		searcher:    searcher,
		source:      src,
		config:      cfg,
		logger:      logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1/clients/{clientID}", func(r chi.Router) {
		r.Post("/refresh", s.handleRefresh)
		r.Post("/search", s.handleSearch)
		r.Get("/stats", s.handleStats)
		r.Post("/compact", s.handleCompact)
		r.Delete("/documents/{docID}", s.handleRemoveDocument)
		r.Delete("/", s.handlePurge)
	})
	r.Get("/api/v1/clients", s.handleListClients)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
