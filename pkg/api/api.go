// Package api is the local HTTP surface the dashboard UI talks to:
// session control, cache management, and filtered dashboard views.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/actionsdash/actionsdash/pkg/cachestore"
	"github.com/actionsdash/actionsdash/pkg/config"
	"github.com/actionsdash/actionsdash/pkg/runstore"
	"github.com/actionsdash/actionsdash/pkg/session"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	sessions   session.Manager
	runs       runstore.Store
	cache      cachestore.Store
	httpServer *http.Server

	// baseCtx outlives individual requests; streams started by a
	// request must not die with it.
	baseCtx context.Context

	wg sync.WaitGroup
}

// NewServer creates the API server. The stores and session manager are
// owned by the caller; the server only serves them.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	sessions session.Manager,
	runs runstore.Store,
	cache cachestore.Store,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		sessions: sessions,
		runs:     runs,
		cache:    cache,
	}
}

// Start binds the listener and begins serving. The bind happens
// synchronously so port conflicts fail fast.
func (s *server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
