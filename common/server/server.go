// Package server wraps an HTTP handler with lifecycle management:
// signal handling and graceful drain on shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowsync/flowsync/common/logger"
)

// Server runs an HTTP handler until interrupted
type Server struct {
	httpServer   *http.Server
	log          *logger.Logger
	name         string
	drainTimeout time.Duration
}

// New creates a server for the handler
func New(name string, port int, handler http.Handler, drainTimeout time.Duration, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout: 15 * time.Second,
			// Synchronous execution holds the response until the
			// orchestrator deadline; the write timeout must outlast it.
			WriteTimeout: 6 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		log:          log,
		name:         name,
		drainTimeout: drainTimeout,
	}
}

// Start serves until SIGINT/SIGTERM or a listener error, then drains
// outstanding requests. It blocks for the lifetime of the server.
func (s *Server) Start() error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s listening", s.name), "addr", s.httpServer.Addr)
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("graceful shutdown failed", "error", err)
			if err := s.httpServer.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}
	}
	return nil
}
