package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes identify saori-wire frames.
var Magic = [2]byte{0x53, 0x57} // "SW"

// WireVersion is the current frame format version.
const WireVersion uint8 = 0x01

// FrameHeaderSize is the fixed size of a frame header in bytes.
const FrameHeaderSize = 14

// MaxPayloadSize bounds a single frame payload. SAORI messages are small;
// anything larger is treated as a corrupt stream.
const MaxPayloadSize = 16 << 20

// Message types define the purpose of each frame.
const (
	TypeRequest     uint8 = 0x01 // host → module: raw SAORI request
	TypeResponse    uint8 = 0x02 // module → host: raw SAORI response
	TypeWorkerReady uint8 = 0x05 // module → host: worker is available
	TypeWorkerStop  uint8 = 0x06 // host → module: graceful shutdown
	TypePing        uint8 = 0x07 // health check (ping/pong)
	TypeError       uint8 = 0x08 // error reporting
)

var (
	ErrInvalidMagic       = errors.New("wire: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("wire: unsupported frame version")
	ErrPayloadTooLarge    = errors.New("wire: payload too large")
)

// Frame is a single saori-wire frame. Meta holds msgpack-encoded
// RequestMeta or ResponseMeta; Payload holds the SAORI bytes untouched.
type Frame struct {
	Type     uint8
	Flags    uint8
	StreamID uint16
	Meta     []byte
	Payload  []byte
}

// WriteFrame encodes and writes a frame to the given writer.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if len(f.Meta) > 1<<24-1 {
		return fmt.Errorf("frame meta too large: %d bytes", len(f.Meta))
	}

	header := make([]byte, FrameHeaderSize)
	header[0] = Magic[0]
	header[1] = Magic[1]
	header[2] = WireVersion
	header[3] = f.Type
	header[4] = f.Flags
	binary.BigEndian.PutUint16(header[5:7], f.StreamID)

	// Meta size as 3 bytes (big-endian uint24)
	metaSize := len(f.Meta)
	header[7] = byte(metaSize >> 16)
	header[8] = byte(metaSize >> 8)
	header[9] = byte(metaSize)

	binary.BigEndian.PutUint32(header[10:14], uint32(len(f.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(f.Meta) > 0 {
		if _, err := w.Write(f.Meta); err != nil {
			return fmt.Errorf("writing frame meta: %w", err)
		}
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and decodes a frame from the given reader. A clean EOF
// before the first header byte is returned as io.EOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	if header[0] != Magic[0] || header[1] != Magic[1] {
		return nil, fmt.Errorf("%w: 0x%02x%02x", ErrInvalidMagic, header[0], header[1])
	}
	if header[2] != WireVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header[2])
	}

	f := &Frame{
		Type:     header[3],
		Flags:    header[4],
		StreamID: binary.BigEndian.Uint16(header[5:7]),
	}

	metaSize := int(header[7])<<16 | int(header[8])<<8 | int(header[9])
	payloadSize := binary.BigEndian.Uint32(header[10:14])
	if payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadSize)
	}

	if metaSize > 0 {
		f.Meta = make([]byte, metaSize)
		if _, err := io.ReadFull(r, f.Meta); err != nil {
			return nil, fmt.Errorf("reading frame meta (%d bytes): %w", metaSize, err)
		}
	}
	if payloadSize > 0 {
		f.Payload = make([]byte, payloadSize)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("reading frame payload (%d bytes): %w", payloadSize, err)
		}
	}

	return f, nil
}

// NewPingFrame creates a PING health check frame.
func NewPingFrame() *Frame {
	return &Frame{Type: TypePing, Payload: []byte("ping")}
}

// NewPongFrame creates a PONG response frame.
func NewPongFrame() *Frame {
	return &Frame{Type: TypePing, Payload: []byte("pong")}
}

// NewWorkerReadyFrame creates a WORKER_READY signal frame.
func NewWorkerReadyFrame() *Frame {
	return &Frame{Type: TypeWorkerReady}
}

// NewWorkerStopFrame creates a WORKER_STOP signal frame.
func NewWorkerStopFrame() *Frame {
	return &Frame{Type: TypeWorkerStop}
}

// NewErrorFrame creates an ERROR frame with a message.
func NewErrorFrame(msg string) *Frame {
	return &Frame{Type: TypeError, Payload: []byte(msg)}
}
