package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/saori/internal/config"
)

// Handler handles WebSocket upgrade requests and manages connections.
type Handler struct {
	manager   *Manager
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64
}

// NewHandler creates a new WebSocket handler. Messages larger than
// maxMessageBytes close the connection; zero disables the limit.
func NewHandler(cfg config.WebSocketConfig, maxMessageBytes int64, manager *Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		readLimit: maxMessageBytes,
	}
}

// originChecker returns nil for an empty list, which keeps the
// upgrader's same-origin check. "*" allows every origin. Requests
// without an Origin header come from non-browser clients and pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.manager.reserve() {
		h.logger.Warn("websocket connection limit reached", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.manager.unreserve()
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	client := h.manager.AddConnection(conn, r)
	h.logger.Debug("websocket connected", "conn_id", client.ID)

	go h.readPump(client)
}

// readPump answers messages in order, one at a time.
func (h *Handler) readPump(client *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.manager.RemoveConnection(client.ID)
		client.Conn.Close()
		h.logger.Debug("websocket disconnected", "conn_id", client.ID)
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "conn_id", client.ID, "error", err)
			}
			return
		}

		if err := h.manager.HandleMessage(ctx, client, message); err != nil {
			h.logger.Warn("websocket write error", "conn_id", client.ID, "error", err)
			return
		}
	}
}
