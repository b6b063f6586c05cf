package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/sadewadee/saori/internal/pool"
	"github.com/sadewadee/saori/internal/protocol"
)

// Forwarder runs one SAORI request. *pool.Pool satisfies it.
type Forwarder interface {
	Exec(ctx context.Context, raw []byte, meta *protocol.RequestMeta) (*pool.Result, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID         string
	Conn       *websocket.Conn
	RemoteAddr string
	seq        atomic.Int64
	mu         sync.Mutex
}

// Send sends a SAORI message to this client as a binary frame.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.BinaryMessage, data)
}

// Manager tracks WebSocket connections and forwards their messages to
// the module pool.
type Manager struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	logger   *slog.Logger
	forward  Forwarder
	maxConns int

	slots    atomic.Int32
	messages atomic.Int64
	failures atomic.Int64
	rejected atomic.Int64
}

// NewManager creates a new WebSocket connection manager. maxConnections
// of zero or less means unlimited.
func NewManager(forward Forwarder, maxConnections int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		clients:  make(map[string]*Client),
		logger:   logger,
		forward:  forward,
		maxConns: maxConnections,
	}
}

// reserve claims a connection slot ahead of the upgrade.
func (m *Manager) reserve() bool {
	for {
		n := m.slots.Load()
		if m.maxConns > 0 && int(n) >= m.maxConns {
			m.rejected.Add(1)
			return false
		}
		if m.slots.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (m *Manager) unreserve() {
	m.slots.Add(-1)
}

// AddConnection registers a new WebSocket connection. The caller must
// hold a slot from reserve.
func (m *Manager) AddConnection(conn *websocket.Conn, r *http.Request) *Client {
	client := &Client{
		ID:         generateConnID(),
		Conn:       conn,
		RemoteAddr: r.RemoteAddr,
	}

	m.mu.Lock()
	m.clients[client.ID] = client
	m.mu.Unlock()

	return client
}

// RemoveConnection unregisters a WebSocket connection and frees its slot.
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	_, exists := m.clients[id]
	delete(m.clients, id)
	m.mu.Unlock()

	if exists {
		m.unreserve()
	}
}

// HandleMessage forwards one SAORI request from client and sends the
// response back to the same client. A pool failure is answered with the
// fixed 500 response.
func (m *Manager) HandleMessage(ctx context.Context, client *Client, message []byte) error {
	m.messages.Add(1)

	meta := &protocol.RequestMeta{
		ID:         client.ID + "-" + strconv.FormatInt(client.seq.Add(1), 10),
		Transport:  "websocket",
		RemoteAddr: client.RemoteAddr,
	}

	reply := protocol.ErrorBytes()
	res, err := m.forward.Exec(ctx, message, meta)
	if err != nil {
		m.failures.Add(1)
		m.logger.Error("forwarding to module", "conn_id", client.ID, "request_id", meta.ID, "error", err)
	} else {
		reply = res.Raw
	}

	return client.Send(reply)
}

// CloseAll sends a close frame to every client and closes the
// connections. Read loops then unregister them.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range clients {
		c.mu.Lock()
		c.Conn.WriteMessage(websocket.CloseMessage, msg)
		c.mu.Unlock()
		c.Conn.Close()
	}
}

// Stats returns current WebSocket statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ManagerStats{
		TotalConnections: len(m.clients),
		TotalMessages:    m.messages.Load(),
		FailedMessages:   m.failures.Load(),
		Rejected:         m.rejected.Load(),
	}
}

// ManagerStats holds WebSocket manager metrics.
type ManagerStats struct {
	TotalConnections int   `json:"total_connections"`
	TotalMessages    int64 `json:"total_messages"`
	FailedMessages   int64 `json:"failed_messages"`
	Rejected         int64 `json:"rejected"`
}

func generateConnID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
