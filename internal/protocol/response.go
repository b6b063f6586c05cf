package protocol

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	prefixResult = "Result: "
	prefixValue  = "Value"
)

// internalServerErrorResponse is sent when a response cannot be encoded.
// It is kept as literal UTF-8 so producing it can never fail.
const internalServerErrorResponse = "SAORI/1.0 500 Internal Server Error\r\nCharset: UTF-8\r\n\r\n\x00"

// ErrorBytes returns a fresh copy of the fixed 500 response.
func ErrorBytes() []byte {
	return []byte(internalServerErrorResponse)
}

// Response accumulates a module's answer. The status follows the result
// and values automatically until it is forced to BadRequest or
// InternalServerError with SetStatus.
//
// A Response is not safe for concurrent mutation.
type Response struct {
	version Version
	status  Status
	result  string
	values  []string
	charset Charset
}

// NewBadRequestResponse returns an empty 400 response in UTF-8, for
// requests that could not be decoded.
func NewBadRequestResponse() *Response {
	return &Response{
		version: Version10,
		status:  StatusBadRequest,
		charset: CharsetUTF8,
	}
}

// NewResponse returns a 204 response answering req in req's version and
// charset.
func NewResponse(req *Request) *Response {
	return &Response{
		version: req.Version(),
		status:  StatusNoContent,
		charset: req.Charset(),
	}
}

func (r *Response) Version() Version { return r.version }
func (r *Response) Charset() Charset { return r.charset }
func (r *Response) Status() Status   { return r.status }
func (r *Response) Result() string   { return r.result }

// SetStatus forces the status. Subsequent result and value changes leave
// BadRequest and InternalServerError in place.
func (r *Response) SetStatus(status Status) {
	r.status = status
}

// SetResult sets the Result header.
func (r *Response) SetResult(result string) {
	r.result = result
	r.status = nextStatus(r.status, r.result, r.values)
}

// Values returns a copy of the value list.
func (r *Response) Values() []string {
	return slices.Clone(r.values)
}

// SetValueAt sets Value<i>, padding lower indices with empty strings.
func (r *Response) SetValueAt(i int, value string) {
	if i < 0 {
		panic(fmt.Sprintf("protocol: negative value index %d", i))
	}
	r.values = setAt(r.values, i, value)
	r.status = nextStatus(r.status, r.result, r.values)
}

// SetValues replaces the whole value list.
func (r *Response) SetValues(values []string) {
	r.values = slices.Clone(values)
	r.status = nextStatus(r.status, r.result, r.values)
}

// String renders the response in wire form, before charset encoding.
// Result and Value lines are only written for a 200 response.
func (r *Response) String() string {
	var b strings.Builder
	b.WriteString(r.version.String())
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(r.status.Code()))
	b.WriteByte(' ')
	b.WriteString(r.status.Text())
	b.WriteString(crlf)
	b.WriteString(prefixCharset)
	b.WriteString(r.charset.String())
	b.WriteString(crlf)
	if r.status == StatusOK {
		if r.result != "" {
			b.WriteString(prefixResult)
			b.WriteString(r.result)
			b.WriteString(crlf)
		}
		for i, v := range r.values {
			b.WriteString(prefixValue)
			b.WriteString(strconv.Itoa(i))
			b.WriteString(indexSeparator)
			b.WriteString(v)
			b.WriteString(crlf)
		}
	}
	b.WriteString(crlf)
	b.WriteByte(0)
	return b.String()
}

// Bytes serializes the response in its charset. On error callers should
// send ErrorBytes instead.
func (r *Response) Bytes() ([]byte, error) {
	out, err := r.charset.Encode(r.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrEncodeFailed, r.charset, err)
	}
	return out, nil
}

// DecodeResponse parses a response produced by a module. The status is
// taken as sent, not recomputed from the body.
func DecodeResponse(b []byte) (*Response, error) {
	body, charset, err := decodeBody(b)
	if err != nil {
		return nil, err
	}

	ls := lines(body)
	if len(ls) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedResponse)
	}
	version, status, err := parseStatusLine(ls[0])
	if err != nil {
		return nil, err
	}

	resp := &Response{
		version: version,
		status:  status,
		charset: charset,
	}
	for _, line := range ls[1:] {
		if v, ok := strings.CutPrefix(line, prefixResult); ok {
			resp.result = v
			continue
		}
		if rest, ok := strings.CutPrefix(line, prefixValue); ok {
			index, value, err := splitIndexed(rest)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrMalformedResponse, line, err)
			}
			resp.values = setAt(resp.values, index, value)
		}
	}
	return resp, nil
}

func parseStatusLine(line string) (Version, Status, error) {
	rawVersion, rest, ok := strings.Cut(line, " ")
	if !ok {
		return 0, 0, fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	version, ok := ParseVersion(rawVersion)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unknown version %q", ErrMalformedResponse, rawVersion)
	}
	rawCode, phrase, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(rawCode)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: status code %q", ErrMalformedResponse, rawCode)
	}
	status, ok := StatusFromCode(code)
	if !ok || status.Text() != phrase {
		return 0, 0, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, rest)
	}
	return version, status, nil
}
