// Package api exposes the certification pipeline over HTTP/JSON.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/certstack/delcert/internal/config"
	"github.com/certstack/delcert/internal/services"
)

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
}

// NewServer binds the configured address and registers the API routes.
func NewServer(cfg config.ServerConfig, svc *services.CertifierService, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("certifier service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	h := &handlers{svc: svc, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/certify", h.certify)
	mux.HandleFunc("/v1/calibrate", h.calibrate)
	mux.HandleFunc("/v1/calibration", h.calibration)
	mux.HandleFunc("/healthz", h.healthz)

	return &Server{
		cfg:        cfg,
		httpServer: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener:   lis,
	}, nil
}

// Handler returns the route multiplexer, useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, closing hard once the context expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
