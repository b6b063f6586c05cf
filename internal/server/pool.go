package server

import (
	"context"

	"github.com/sadewadee/saori/internal/pool"
	"github.com/sadewadee/saori/internal/protocol"
)

// Pool is the part of the worker pool the gateway needs.
type Pool interface {
	Exec(ctx context.Context, raw []byte, meta *protocol.RequestMeta) (*pool.Result, error)
	Stats() pool.PoolStats
}
