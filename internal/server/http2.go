package server

import (
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// EnableHTTP2 configures HTTP/2 for the server: negotiated through ALPN
// when serving TLS, h2c (HTTP/2 cleartext) otherwise.
func EnableHTTP2(srv *http.Server, useTLS bool) error {
	h2 := &http2.Server{IdleTimeout: srv.IdleTimeout}
	if useTLS {
		return http2.ConfigureServer(srv, h2)
	}
	srv.Handler = h2c.NewHandler(srv.Handler, h2)
	return nil
}
