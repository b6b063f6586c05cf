package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sadewadee/saori/internal/config"
	"github.com/sadewadee/saori/internal/protocol"
)

// HeaderSaoriStatus carries the SAORI status code of a gateway response.
const HeaderSaoriStatus = "X-Saori-Status"

// Router dispatches incoming HTTP requests to the appropriate handler.
type Router struct {
	cfg           *config.Config
	pool          Pool
	logger        *slog.Logger
	saoriHandler  http.Handler
	healthHandler *HealthHandler
	websocket     http.Handler
}

// NewRouter creates a new request router. ws may be nil.
func NewRouter(cfg *config.Config, workerPool Pool, ws http.Handler, logger *slog.Logger) *Router {
	r := &Router{
		cfg:       cfg,
		pool:      workerPool,
		logger:    logger,
		websocket: ws,
	}
	r.saoriHandler = r.newSAORIHandler()
	r.healthHandler = NewHealthHandler(workerPool)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/health", "/healthz", "/ready", "/readyz":
		r.healthHandler.ServeHTTP(w, req)
		return
	case r.cfg.Server.Path:
		r.saoriHandler.ServeHTTP(w, req)
		return
	}

	if r.websocket != nil && r.cfg.WebSocket.Enabled && req.URL.Path == r.cfg.WebSocket.Path {
		r.websocket.ServeHTTP(w, req)
		return
	}

	http.NotFound(w, req)
}

// newSAORIHandler takes a raw SAORI request as the POST body and writes
// the module's raw response back.
func (r *Router) newSAORIHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body := req.Body
		if r.cfg.Server.MaxBodyBytes > 0 {
			body = http.MaxBytesReader(w, req.Body, r.cfg.Server.MaxBodyBytes)
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}

		meta := &protocol.RequestMeta{
			ID:         req.Header.Get("X-Request-ID"),
			Transport:  "http",
			RemoteAddr: req.RemoteAddr,
		}
		res, err := r.pool.Exec(req.Context(), raw, meta)
		if err != nil {
			r.logger.Error("worker exec", "error", err, "request_id", meta.ID)
			writeSAORI(w, http.StatusBadGateway, protocol.StatusInternalServerError.Code(), protocol.CharsetUTF8.String(), protocol.ErrorBytes())
			return
		}

		saoriStatus, charset := protocol.StatusInternalServerError.Code(), protocol.CharsetUTF8.String()
		if res.Meta != nil {
			saoriStatus, charset = res.Meta.Status, res.Meta.Charset
		}
		writeSAORI(w, http.StatusOK, saoriStatus, charset, res.Raw)
	})
}

func writeSAORI(w http.ResponseWriter, code, saoriStatus int, charset string, raw []byte) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset="+charset)
	h.Set("Content-Length", strconv.Itoa(len(raw)))
	h.Set(HeaderSaoriStatus, strconv.Itoa(saoriStatus))
	w.WriteHeader(code)
	w.Write(raw)
}
