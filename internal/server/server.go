// Package server provides the HTTP API for kioku.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/archive"
	"github.com/hyperjump/kioku/internal/blobstore"
	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
)

// ModelCatalog lists the embedding models the server can use.
type ModelCatalog interface {
	Models() []models.ModelInfo
}

// Server is the HTTP server for the kioku API.
type Server struct {
	bundles *bundle.Registry
	indexer *indexer.Indexer
	engine  *search.Engine
	catalog ModelCatalog
	blobs   blobstore.Store
	archive archive.Options
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// ServerOption configures optional collaborators.
type ServerOption func(*Server)

// WithBlobStore enables publishing archives.
func WithBlobStore(s blobstore.Store) ServerOption {
	return func(srv *Server) { srv.blobs = s }
}

// WithArchiveOptions sets how exports are written.
func WithArchiveOptions(o archive.Options) ServerOption {
	return func(srv *Server) { srv.archive = o }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	bundles *bundle.Registry,
	idx *indexer.Indexer,
	engine *search.Engine,
	catalog ModelCatalog,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		bundles: bundles,
		indexer: idx,
		engine:  engine,
		catalog: catalog,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API wrapped in tracing.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Compress(5, "application/json"))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/models", s.handleModels)
		r.Get("/chunking-methods", s.handleChunkingMethods)
		r.Post("/archives/query", s.handleArchiveQuery)

		r.Get("/stores", s.handleListStores)
		r.Post("/stores", s.handleCreateStore)
		r.Route("/stores/{store}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteStore)
			r.Get("/health", s.handleStoreHealth)
			r.Get("/verify", s.handleVerify)
			r.Post("/reconcile", s.handleReconcile)
			r.Post("/reset", s.handleReset)
			r.Get("/export", s.handleExport)
			r.Post("/publish", s.handlePublish)
			r.Post("/query", s.handleQuery)
			r.Post("/documents", s.handleIngest)
			r.Delete("/documents/{document}", s.handleDeleteDocument)
			r.Post("/chunks", s.handleAddChunk)
			r.Put("/chunks/{chunk}", s.handleUpdateChunk)
			r.Delete("/chunks/{chunk}", s.handleDeleteChunk)
		})
	})
	return otelhttp.NewHandler(r, "kioku")
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
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

const requestIDHeader = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", r.Header.Get(requestIDHeader)))
	})
}
