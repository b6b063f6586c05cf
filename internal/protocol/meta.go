package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// RequestMeta travels with a request frame. None of it is part of the
// SAORI message; it lets the host correlate and log.
type RequestMeta struct {
	ID         string `msgpack:"id"`
	Transport  string `msgpack:"transport"` // "http", "websocket", "cli"
	RemoteAddr string `msgpack:"remote_addr,omitempty"`
}

// ResponseMeta travels with a response frame so the host can account for
// the status without parsing the SAORI payload.
type ResponseMeta struct {
	ID             string `msgpack:"id"`
	Status         int    `msgpack:"status"`
	Charset        string `msgpack:"charset"`
	DurationMicros int64  `msgpack:"duration_us"`
}

// EncodeRequestFrame creates a REQUEST frame around raw SAORI bytes.
func EncodeRequestFrame(meta *RequestMeta, raw []byte) (*Frame, error) {
	m, err := msgpack.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding request meta: %w", err)
	}
	return &Frame{
		Type:    TypeRequest,
		Meta:    m,
		Payload: raw,
	}, nil
}

// DecodeRequestFrame extracts request meta and raw bytes from a REQUEST frame.
func DecodeRequestFrame(f *Frame) (*RequestMeta, []byte, error) {
	if f.Type != TypeRequest {
		return nil, nil, fmt.Errorf("expected REQUEST frame, got type 0x%02x", f.Type)
	}
	var meta RequestMeta
	if len(f.Meta) > 0 {
		if err := msgpack.Unmarshal(f.Meta, &meta); err != nil {
			return nil, nil, fmt.Errorf("decoding request meta: %w", err)
		}
	}
	return &meta, f.Payload, nil
}

// EncodeResponseFrame creates a RESPONSE frame around raw SAORI bytes.
func EncodeResponseFrame(meta *ResponseMeta, raw []byte) (*Frame, error) {
	m, err := msgpack.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding response meta: %w", err)
	}
	return &Frame{
		Type:    TypeResponse,
		Meta:    m,
		Payload: raw,
	}, nil
}

// DecodeResponseFrame extracts response meta and raw bytes from a RESPONSE frame.
func DecodeResponseFrame(f *Frame) (*ResponseMeta, []byte, error) {
	if f.Type != TypeResponse {
		return nil, nil, fmt.Errorf("expected RESPONSE frame, got type 0x%02x", f.Type)
	}
	var meta ResponseMeta
	if len(f.Meta) > 0 {
		if err := msgpack.Unmarshal(f.Meta, &meta); err != nil {
			return nil, nil, fmt.Errorf("decoding response meta: %w", err)
		}
	}
	return &meta, f.Payload, nil
}
