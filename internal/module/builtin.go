package module

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sadewadee/saori/internal/protocol"
)

// Builtins maps the names of the bundled functions to their
// implementations. The request's Argument0 is always the function name,
// so the functions work on Argument1 onward.
func Builtins() map[string]Func {
	return map[string]Func{
		"echo":    echo,
		"count":   count,
		"join":    join,
		"upper":   upper,
		"version": version,
	}
}

// EnableBuiltins registers the named built-ins on m, or every built-in
// when names is empty.
func (m *Module) EnableBuiltins(names []string) error {
	all := Builtins()
	if len(names) == 0 {
		for name, fn := range all {
			m.Register(name, fn)
		}
		return nil
	}
	for _, name := range names {
		fn, ok := all[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFunction, name)
		}
		m.Register(name, fn)
	}
	return nil
}

// params returns Argument1..N.
func params(req *protocol.Request) []string {
	args := req.Arguments()
	if len(args) == 0 {
		return nil
	}
	return args[1:]
}

func echo(_ context.Context, req *protocol.Request, resp *protocol.Response) error {
	resp.SetResult(req.Argument(1))
	resp.SetValues(params(req))
	return nil
}

func count(_ context.Context, req *protocol.Request, resp *protocol.Response) error {
	resp.SetResult(strconv.Itoa(len(params(req))))
	return nil
}

func join(_ context.Context, req *protocol.Request, resp *protocol.Response) error {
	p := params(req)
	if len(p) == 0 {
		return fmt.Errorf("join: missing separator")
	}
	resp.SetResult(strings.Join(p[1:], p[0]))
	return nil
}

func upper(_ context.Context, req *protocol.Request, resp *protocol.Response) error {
	p := params(req)
	for i, v := range p {
		resp.SetValueAt(i, strings.ToUpper(v))
	}
	if len(p) > 0 {
		resp.SetResult(strings.ToUpper(p[0]))
	}
	return nil
}

func version(ctx context.Context, req *protocol.Request, resp *protocol.Response) error {
	name := "saori"
	if m, ok := FromContext(ctx); ok {
		name = m.Name()
	}
	resp.SetResult(name + "/" + Version)
	return nil
}
