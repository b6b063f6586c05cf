package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sadewadee/saori/internal/config"
)

// Server is the SAORI HTTP gateway.
type Server struct {
	cfg      *config.Config
	pool     Pool
	logger   *slog.Logger
	http     *http.Server
	http3    *HTTP3Server
	redirect *http.Server
	router   *Router
	metrics  *Metrics
}

// New creates a new gateway. ws serves websocket.path and may be nil.
func New(cfg *config.Config, workerPool Pool, ws http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:    cfg,
		pool:   workerPool,
		logger: logger,
	}

	s.metrics = NewMetrics(workerPool)
	s.router = NewRouter(cfg, workerPool, ws, logger)

	s.http = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      s.buildMiddleware(s.router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the gateway's root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start listens for HTTP connections and blocks until the server stops.
// It returns nil after a graceful Stop.
func (s *Server) Start() error {
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}

	s.logger.Info("saori server starting",
		"address", s.cfg.Server.Address,
		"path", s.cfg.Server.Path,
		"tls", tlsConfig != nil,
		"http2", s.cfg.Server.HTTP2,
		"http3", s.cfg.Server.HTTP3,
	)

	if tlsConfig == nil {
		if s.cfg.Server.HTTP2 {
			if err := EnableHTTP2(s.http, false); err != nil {
				return fmt.Errorf("enabling h2c: %w", err)
			}
		}
		return ignoreClosed(s.http.ListenAndServe())
	}

	s.http.TLSConfig = tlsConfig
	if s.cfg.Server.HTTP2 {
		if err := EnableHTTP2(s.http, true); err != nil {
			return fmt.Errorf("enabling HTTP/2: %w", err)
		}
	}

	if h3 := NewHTTP3Server(s.cfg, s.http.Handler, tlsConfig, s.logger); h3 != nil {
		port, err := listenPort(s.cfg.Server.Address)
		if err != nil {
			return fmt.Errorf("parsing server address: %w", err)
		}
		s.http3 = h3
		s.http.Handler = AltSvcMiddleware(port)(s.http.Handler)
		go func() {
			if err := h3.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP/3 server error", "error", err)
			}
		}()
	}

	if s.redirect != nil {
		go func() {
			s.logger.Info("starting HTTP redirect server for ACME challenges", "address", s.redirect.Addr)
			if err := s.redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP redirect server error", "error", err)
			}
		}()
	}

	return ignoreClosed(s.http.ListenAndServeTLS("", ""))
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("saori server shutting down")

	var errs []error
	if err := s.http3.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping HTTP/3: %w", err))
	}
	if s.redirect != nil {
		if err := s.redirect.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping redirect server: %w", err))
		}
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// tlsConfig picks ACME, a configured cert/key pair, or a self-signed
// development cert, in that order. It returns nil for plain HTTP.
func (s *Server) tlsConfig() (*tls.Config, error) {
	tc := s.cfg.Server.TLS

	switch {
	case tc.ACME.Email != "":
		cfg, redirect, err := SetupACME(s.cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.redirect = redirect
		return cfg, nil

	case tc.Cert != "" && tc.Key != "":
		cert, err := tls.LoadX509KeyPair(tc.Cert, tc.Key)
		if err != nil {
			return nil, fmt.Errorf("loading TLS cert: %w", err)
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil

	case tc.Auto:
		s.logger.Warn("auto-TLS: using self-signed certificate for development")
		return selfSignedTLSConfig()
	}

	if s.cfg.Server.HTTP3 {
		s.logger.Warn("HTTP/3 requires TLS; serving HTTP/1.1 only")
	}
	return nil, nil
}

func (s *Server) buildMiddleware(handler http.Handler) http.Handler {
	handler = CoreMiddleware(s.logger)(handler)

	if s.cfg.Metrics.Enabled {
		handler = s.metrics.Middleware(s.cfg.Metrics.Path)(handler)
	}

	return handler
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
