package module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sadewadee/saori/internal/protocol"
)

// Serve runs the worker side of the frame protocol on r and w until the
// host sends WORKER_STOP, r reaches EOF, or ctx is cancelled.
//
// Every REQUEST frame gets exactly one reply, a RESPONSE or an ERROR
// frame, followed by WORKER_READY.
func (m *Module) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	if err := protocol.WriteFrame(w, protocol.NewWorkerReadyFrame()); err != nil {
		return fmt.Errorf("sending worker ready: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		switch frame.Type {
		case protocol.TypeRequest:
			if err := m.serveRequest(ctx, frame, w); err != nil {
				return err
			}
		case protocol.TypePing:
			if err := protocol.WriteFrame(w, protocol.NewPongFrame()); err != nil {
				return fmt.Errorf("sending pong: %w", err)
			}
		case protocol.TypeWorkerStop:
			m.logger.Debug("worker stop received", "module", m.name)
			return nil
		default:
			msg := fmt.Sprintf("unexpected frame type 0x%02x", frame.Type)
			if err := protocol.WriteFrame(w, protocol.NewErrorFrame(msg)); err != nil {
				return fmt.Errorf("sending error frame: %w", err)
			}
		}
	}
}

func (m *Module) serveRequest(ctx context.Context, frame *protocol.Frame, w io.Writer) error {
	start := time.Now()

	meta, raw, err := protocol.DecodeRequestFrame(frame)
	if err != nil {
		m.logger.Warn("bad request frame", "error", err)
		return reply(w, protocol.NewErrorFrame(err.Error()))
	}

	out := m.handle(ctx, raw)

	resp, err := protocol.EncodeResponseFrame(&protocol.ResponseMeta{
		ID:             meta.ID,
		Status:         out.status.Code(),
		Charset:        out.charset.String(),
		DurationMicros: time.Since(start).Microseconds(),
	}, out.raw)
	if err != nil {
		return err
	}
	resp.StreamID = frame.StreamID

	return reply(w, resp)
}

// reply sends the single answer to a REQUEST frame followed by
// WORKER_READY.
func reply(w io.Writer, f *protocol.Frame) error {
	if err := protocol.WriteFrame(w, f); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	if err := protocol.WriteFrame(w, protocol.NewWorkerReadyFrame()); err != nil {
		return fmt.Errorf("sending worker ready: %w", err)
	}
	return nil
}
