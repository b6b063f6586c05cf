package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/sadewadee/saori/internal/config"
)

const (
	defaultCertCacheDir = "/var/lib/saori/certs"
	letsEncryptStaging  = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

// NewACMEManager creates an autocert manager for Let's Encrypt.
func NewACMEManager(cfg *config.ACMEConfig, logger *slog.Logger) (*autocert.Manager, error) {
	if cfg.Email == "" {
		return nil, errors.New("ACME email is required")
	}
	if len(cfg.Domains) == 0 {
		return nil, errors.New("ACME domains are required")
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = defaultCertCacheDir
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cert cache dir: %w", err)
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      cfg.Email,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	if cfg.Staging {
		manager.Client = &acme.Client{DirectoryURL: letsEncryptStaging}
		logger.Info("using Let's Encrypt staging server")
	}

	return manager, nil
}

// newRedirectServer builds a server on addr that redirects to HTTPS and
// answers ACME HTTP-01 challenges. The caller starts it.
func newRedirectServer(addr string, manager *autocert.Manager) *http.Server {
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + r.Host + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	return &http.Server{Addr: addr, Handler: manager.HTTPHandler(redirect)}
}

// SetupACME configures TLS with ACME certificate management. The redirect
// server is nil unless server.http_redirect is set.
func SetupACME(cfg *config.Config, logger *slog.Logger) (*tls.Config, *http.Server, error) {
	manager, err := NewACMEManager(&cfg.Server.TLS.ACME, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating ACME manager: %w", err)
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	var redirect *http.Server
	if cfg.Server.HTTPRedirect {
		redirect = newRedirectServer(":80", manager)
	}
	return tlsConfig, redirect, nil
}
