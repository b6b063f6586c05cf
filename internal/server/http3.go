package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/quic-go/quic-go/http3"

	"github.com/sadewadee/saori/internal/config"
)

// HTTP3Server wraps the HTTP/3 (QUIC) server.
type HTTP3Server struct {
	server *http3.Server
	logger *slog.Logger
}

// NewHTTP3Server creates an HTTP/3 server. It returns nil when HTTP/3 is
// disabled or there is no TLS config.
func NewHTTP3Server(cfg *config.Config, handler http.Handler, tlsConfig *tls.Config, logger *slog.Logger) *HTTP3Server {
	if !cfg.Server.HTTP3 {
		return nil
	}
	if tlsConfig == nil {
		logger.Warn("HTTP/3 requires TLS, but no TLS config provided")
		return nil
	}

	return &HTTP3Server{
		server: &http3.Server{
			Addr:      cfg.Server.Address,
			Handler:   handler,
			TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
		},
		logger: logger,
	}
}

// Start begins listening for HTTP/3 connections.
func (s *HTTP3Server) Start() error {
	if s == nil {
		return nil
	}
	s.logger.Info("starting HTTP/3 server", "address", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop shuts down the HTTP/3 server.
func (s *HTTP3Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.server.Close()
}

// AltSvcHeader returns the Alt-Svc header value for HTTP/3 advertisement.
func AltSvcHeader(port int) string {
	return fmt.Sprintf(`h3=":%d"; ma=86400`, port)
}

// AltSvcMiddleware adds Alt-Svc header to advertise HTTP/3 support.
func AltSvcMiddleware(port int) func(http.Handler) http.Handler {
	value := AltSvcHeader(port)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Alt-Svc", value)
			next.ServeHTTP(w, r)
		})
	}
}

// listenPort extracts the port of a listen address such as ":8443".
func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}
