// Package server exposes the answering service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ragqa/internal/domain"
	"ragqa/internal/logging"
	"ragqa/internal/retriever"
	"ragqa/internal/service"
)

// Asker answers a question from the indexed corpus.
type Asker interface {
	Ask(ctx context.Context, query string) (service.Answer, error)
}

// Index is the retrieval surface used by the search and maintenance routes.
type Index interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
	Add(ctx context.Context, text, source string) error
	Build(ctx context.Context) (retriever.BuildStats, error)
	Save(ctx context.Context) error
	Len() int
}

// Config holds the HTTP settings.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
	// Mode is a gin mode: "release", "debug" or "test".
	Mode string
}

// Dependencies holds everything the handlers call into.
type Dependencies struct {
	Service Asker
	Index   Index
	Log     logrus.FieldLogger
}

// Server is the HTTP query endpoint.
type Server struct {
	cfg    Config
	deps   Dependencies
	router *gin.Engine
	server *http.Server
}

// New builds the router with middleware and routes.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Service == nil || deps.Index == nil {
		return nil, errors.New("server: service and index are required")
	}
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	if cfg.Mode == "" {
		cfg.Mode = gin.ReleaseMode
	}
	gin.SetMode(cfg.Mode)

	s := &Server{cfg: cfg, deps: deps, router: gin.New()}
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(accessLogMiddleware(deps.Log))
	if cfg.RequestTimeout > 0 {
		s.router.Use(timeoutMiddleware(cfg.RequestTimeout))
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.POST("/ask", s.ask)
	s.router.POST("/search", s.search)
	s.router.POST("/add", s.add)
	s.router.POST("/index/rebuild", s.rebuild)
}

// Router returns the underlying gin engine.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.WithField("addr", s.cfg.Addr).Info("server.listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.deps.Log.Info("server.stopped")
	return nil
}
