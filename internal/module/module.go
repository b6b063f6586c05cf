// Package module hosts SAORI functions behind the request/response codec.
//
// A Module owns a registry of named functions. Handle turns raw request
// bytes into raw response bytes, and Serve runs the same dispatch over a
// saori-wire frame stream so the module can live in a pool worker.
package module

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sadewadee/saori/internal/protocol"
)

// Version of the module runtime, reported by the version built-in.
var Version = "0.1.0-dev"

// Func implements one SAORI function. req.Argument(0) is the function
// name; the function fills resp. A returned error becomes a 500.
type Func func(ctx context.Context, req *protocol.Request, resp *protocol.Response) error

// ErrUnknownFunction is returned by EnableBuiltins for names it does not know.
var ErrUnknownFunction = errors.New("unknown function")

// Module dispatches SAORI requests to registered functions.
type Module struct {
	name   string
	logger *slog.Logger

	mu    sync.RWMutex
	funcs map[string]Func
}

// New creates an empty module.
func New(name string, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Module{
		name:   name,
		logger: logger,
		funcs:  make(map[string]Func),
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Register adds fn under name, replacing any previous registration.
func (m *Module) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[name] = fn
}

// Functions returns the registered function names, sorted.
func (m *Module) Functions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.funcs))
	for name := range m.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Module) lookup(name string) (Func, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.funcs[name]
	return fn, ok
}

// Handle answers one raw SAORI request. It always returns bytes that are
// a valid SAORI response.
func (m *Module) Handle(ctx context.Context, raw []byte) []byte {
	return m.handle(ctx, raw).raw
}

// outcome is a rendered response with the facts a host wants to record.
type outcome struct {
	raw     []byte
	status  protocol.Status
	charset protocol.Charset
}

func errorOutcome() outcome {
	return outcome{
		raw:     protocol.ErrorBytes(),
		status:  protocol.StatusInternalServerError,
		charset: protocol.CharsetUTF8,
	}
}

func (m *Module) handle(ctx context.Context, raw []byte) outcome {
	start := time.Now()

	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		m.logger.Debug("saori request rejected", "error", err)
		return m.render(protocol.NewBadRequestResponse())
	}

	resp := protocol.NewResponse(req)
	function := ""

	switch req.Command() {
	case protocol.CommandGetVersion:
		resp.SetStatus(protocol.StatusOK)
	case protocol.CommandExecute:
		function = req.Argument(0)
		fn, ok := m.lookup(function)
		if !ok {
			resp.SetStatus(protocol.StatusBadRequest)
			break
		}
		panicked, err := call(context.WithValue(ctx, moduleKey{}, m), fn, req, resp)
		if panicked != nil {
			m.logger.Error("saori function panicked", "function", function, "panic", panicked)
			return errorOutcome()
		}
		if err != nil {
			m.logger.Warn("saori function failed", "function", function, "error", err)
			resp.SetStatus(protocol.StatusInternalServerError)
		}
	}

	out := m.render(resp)
	sender, _ := req.Sender()
	m.logger.Debug("saori request",
		"command", req.Command().String(),
		"function", function,
		"sender", sender,
		"charset", req.Charset().String(),
		"status", out.status.Code(),
		"duration", time.Since(start),
	)
	return out
}

func (m *Module) render(resp *protocol.Response) outcome {
	b, err := resp.Bytes()
	if err != nil {
		m.logger.Warn("saori response encoding failed", "charset", resp.Charset().String(), "error", err)
		return errorOutcome()
	}
	return outcome{raw: b, status: resp.Status(), charset: resp.Charset()}
}

type moduleKey struct{}

// FromContext returns the Module running the current function.
func FromContext(ctx context.Context) (*Module, bool) {
	m, ok := ctx.Value(moduleKey{}).(*Module)
	return m, ok
}

// call runs fn, converting a panic into a non-nil first return.
func call(ctx context.Context, fn Func, req *protocol.Request, resp *protocol.Response) (panicked any, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
		}
	}()
	return nil, fn(ctx, req, resp)
}
