package protocol

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	prefixCharset       = "Charset: "
	prefixSecurityLevel = "SecurityLevel: "
	prefixArgument      = "Argument"
	prefixSender        = "Sender: "
	indexSeparator      = ": "
	crlf                = "\r\n"
)

// MaxArgumentIndex is the largest Argument/Value index accepted on the
// wire. Larger indices are reported as NoIndex.
const MaxArgumentIndex = 1<<16 - 1

// Command is the verb on the first line of a request.
type Command uint8

const (
	CommandExecute Command = iota
	CommandGetVersion
)

// String returns the wire token, without the trailing space.
func (c Command) String() string {
	switch c {
	case CommandExecute:
		return "EXECUTE"
	case CommandGetVersion:
		return "GET Version"
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// Version is the protocol version named on the first line.
type Version uint8

const (
	Version10 Version = iota
)

var versions = []Version{Version10}

func (v Version) String() string {
	switch v {
	case Version10:
		return "SAORI/1.0"
	}
	return fmt.Sprintf("Version(%d)", uint8(v))
}

// ParseVersion maps a wire version string such as "SAORI/1.0".
func ParseVersion(s string) (Version, bool) {
	for _, v := range versions {
		if s == v.String() {
			return v, true
		}
	}
	return 0, false
}

// SecurityLevel tells a module where the request originated. The zero
// value means the header was absent.
type SecurityLevel uint8

const (
	SecurityLevelLocal SecurityLevel = iota + 1
	SecurityLevelExternal
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityLevelLocal:
		return "Local"
	case SecurityLevelExternal:
		return "External"
	}
	return ""
}

// ParseSecurityLevel maps "Local" or "External".
func ParseSecurityLevel(s string) (SecurityLevel, bool) {
	switch s {
	case "Local":
		return SecurityLevelLocal, true
	case "External":
		return SecurityLevelExternal, true
	}
	return 0, false
}

// Request is a decoded SAORI request. It is never modified after
// construction; the With* methods return copies.
type Request struct {
	charset       Charset
	command       Command
	version       Version
	securityLevel SecurityLevel
	arguments     []string
	sender        string
	hasSender     bool
}

// NewRequest builds a request on the host side.
func NewRequest(command Command, charset Charset, args ...string) *Request {
	return &Request{
		charset:   charset,
		command:   command,
		version:   Version10,
		arguments: slices.Clone(args),
	}
}

// WithSender returns a copy of r carrying a Sender header.
func (r *Request) WithSender(sender string) *Request {
	c := r.clone()
	c.sender = sender
	c.hasSender = true
	return c
}

// WithSecurityLevel returns a copy of r carrying a SecurityLevel header.
func (r *Request) WithSecurityLevel(level SecurityLevel) *Request {
	c := r.clone()
	c.securityLevel = level
	return c
}

func (r *Request) clone() *Request {
	c := *r
	c.arguments = slices.Clone(r.arguments)
	return &c
}

func (r *Request) Charset() Charset { return r.charset }
func (r *Request) Command() Command { return r.command }
func (r *Request) Version() Version { return r.version }

// SecurityLevel reports the declared level, if any.
func (r *Request) SecurityLevel() (SecurityLevel, bool) {
	return r.securityLevel, r.securityLevel != 0
}

// Sender reports the Sender header, if any.
func (r *Request) Sender() (string, bool) {
	return r.sender, r.hasSender
}

// Arguments returns a copy of the argument list.
func (r *Request) Arguments() []string {
	return slices.Clone(r.arguments)
}

// Argument returns Argument<i>, or "" when i is out of range.
func (r *Request) Argument(i int) string {
	if i < 0 || i >= len(r.arguments) {
		return ""
	}
	return r.arguments[i]
}

// NumArguments returns the length of the gap-filled argument list.
func (r *Request) NumArguments() int {
	return len(r.arguments)
}

// String renders the request in wire form, before charset encoding.
func (r *Request) String() string {
	var b strings.Builder
	b.WriteString(r.command.String())
	b.WriteByte(' ')
	b.WriteString(r.version.String())
	b.WriteString(crlf)
	b.WriteString(prefixCharset)
	b.WriteString(r.charset.String())
	b.WriteString(crlf)
	if level, ok := r.SecurityLevel(); ok {
		b.WriteString(prefixSecurityLevel)
		b.WriteString(level.String())
		b.WriteString(crlf)
	}
	if sender, ok := r.Sender(); ok {
		b.WriteString(prefixSender)
		b.WriteString(sender)
		b.WriteString(crlf)
	}
	for i, arg := range r.arguments {
		b.WriteString(prefixArgument)
		b.WriteString(strconv.Itoa(i))
		b.WriteString(indexSeparator)
		b.WriteString(arg)
		b.WriteString(crlf)
	}
	b.WriteString(crlf)
	b.WriteByte(0)
	return b.String()
}

// Bytes renders the request and encodes it in its charset.
func (r *Request) Bytes() ([]byte, error) {
	out, err := r.charset.Encode(r.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrEncodeFailed, r.charset, err)
	}
	return out, nil
}

// DecodeRequest parses a raw request buffer.
//
// The charset is declared inside the buffer, so decoding happens twice: a
// lossy UTF-8 pass locates the ASCII "Charset: " line, then the whole
// buffer is decoded strictly with the declared charset. Only the strict
// text is parsed further.
func DecodeRequest(b []byte) (*Request, error) {
	body, charset, err := decodeBody(b)
	if err != nil {
		return nil, err
	}

	ls := lines(body)
	if len(ls) == 0 {
		return nil, &RequestError{Kind: EmptyRequest}
	}
	command, version, err := parseVersionLine(ls[0])
	if err != nil {
		return nil, err
	}

	req := &Request{
		charset: charset,
		command: command,
		version: version,
	}
	for _, line := range ls[1:] {
		if v, ok := strings.CutPrefix(line, prefixSecurityLevel); ok {
			if level, ok := ParseSecurityLevel(v); ok {
				req.securityLevel = level
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, prefixArgument); ok {
			index, value, err := splitIndexed(rest)
			if err != nil {
				return nil, err
			}
			req.arguments = setAt(req.arguments, index, value)
			continue
		}
		if v, ok := strings.CutPrefix(line, prefixSender); ok {
			req.sender = v
			req.hasSender = true
		}
	}
	return req, nil
}

// decodeBody resolves the charset and strictly decodes b with it.
func decodeBody(b []byte) (string, Charset, error) {
	charset := CharsetShiftJIS
	for _, line := range lines(strings.ToValidUTF8(string(b), "\uFFFD")) {
		if name, ok := strings.CutPrefix(line, prefixCharset); ok {
			c, err := ParseCharset(name)
			if err != nil {
				return "", 0, err
			}
			charset = c
			break
		}
	}

	body, err := charset.Decode(b)
	if err != nil {
		return "", 0, &RequestError{Kind: DecodeFailed, Detail: err.Error()}
	}
	return body, charset, nil
}

func parseVersionLine(line string) (Command, Version, error) {
	for _, c := range []Command{CommandGetVersion, CommandExecute} {
		rest, ok := strings.CutPrefix(line, c.String()+" ")
		if !ok {
			continue
		}
		v, ok := ParseVersion(rest)
		if !ok {
			return 0, 0, &RequestError{Kind: NoVersion, Detail: rest}
		}
		return c, v, nil
	}
	return 0, 0, &RequestError{Kind: NoCommand, Detail: line}
}

// splitIndexed parses the "<index>: <value>" tail of an Argument line.
func splitIndexed(rest string) (int, string, error) {
	raw, value, ok := strings.Cut(rest, indexSeparator)
	if !ok {
		return 0, "", &RequestError{Kind: InvalidSeparator, Detail: rest}
	}
	index, err := parseIndex(raw)
	if err != nil {
		return 0, "", &RequestError{Kind: NoIndex, Detail: raw}
	}
	return index, value, nil
}

// parseIndex accepts an optional leading '+', like an unsigned integer
// parse in most languages does.
func parseIndex(raw string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "+"), 10, 64)
	if err != nil {
		return 0, err
	}
	if n > MaxArgumentIndex {
		return 0, fmt.Errorf("index %d exceeds %d", n, MaxArgumentIndex)
	}
	return int(n), nil
}

// setAt stores v at index i, padding list with empty strings up to i.
func setAt(list []string, i int, v string) []string {
	if i >= len(list) {
		list = append(list, make([]string, i+1-len(list))...)
	}
	list[i] = v
	return list
}

// lines splits s on "\n", dropping one "\r" before each "\n". A trailing
// newline does not start a new line.
func lines(s string) []string {
	var out []string
	for s != "" {
		line, rest, found := strings.Cut(s, "\n")
		if found {
			line = strings.TrimSuffix(line, "\r")
		}
		out = append(out, line)
		s = rest
	}
	return out
}
