// Package server exposes the monitor's reports over HTTP: the latest report,
// a websocket stream of reports, health with error counters and prometheus
// metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oicur0t/rpsmon/internal/monitor"
	"github.com/oicur0t/rpsmon/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config configures the status server
type Config struct {
	ListenAddress string
	TLSCert       string
	TLSKey        string
}

// Server is the status HTTP server. It also acts as a renderer so every
// report reaches websocket subscribers.
type Server struct {
	cfg    Config
	hub    *Hub
	logger *zap.Logger
	http   *http.Server
}

// New builds the server and its routes; nothing listens until Start
func New(cfg Config, diag *monitor.Diagnostics, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	hub := NewHub()
	handler := NewHandler(diag, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", handler.Health)
	mux.HandleFunc("/v1/report", handler.Report)
	mux.HandleFunc("/v1/stream", handler.Stream)
	mux.Handle("/metrics", promhttp.HandlerFor(NewRegistry(diag), promhttp.HandlerOpts{}))

	// Apply middleware
	var httpHandler http.Handler = mux
	httpHandler = RecoveryMiddleware(logger)(httpHandler)
	httpHandler = LoggingMiddleware(logger)(httpHandler)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TLSCert != "" {
		tlsConfig, err := LoadTLSConfig(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		httpServer.TLSConfig = tlsConfig
	}

	return &Server{cfg: cfg, hub: hub, logger: logger, http: httpServer}, nil
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Render implements monitor.Renderer by publishing the report to subscribers
func (s *Server) Render(r models.Report) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	s.hub.Publish(msg)
	return nil
}

// Start serves in the background. The channel receives the error that
// stopped the server, if it was not a shutdown.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Status server starting",
			zap.String("addr", s.cfg.ListenAddress),
			zap.Bool("tls", s.http.TLSConfig != nil))

		var err error
		if s.http.TLSConfig != nil {
			err = s.http.ListenAndServeTLS("", "") // Certs loaded via TLSConfig
		} else {
			err = s.http.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown closes websocket streams and stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		s.http.Close()
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	return nil
}
