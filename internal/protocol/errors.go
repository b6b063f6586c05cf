package protocol

import "errors"

// RequestErrorClass groups decode failures by the part of the request
// that was rejected.
type RequestErrorClass uint8

const (
	ClassCharset RequestErrorClass = iota + 1
	ClassVersionLine
	ClassArgument
)

func (c RequestErrorClass) String() string {
	switch c {
	case ClassCharset:
		return "charset"
	case ClassVersionLine:
		return "version line"
	case ClassArgument:
		return "argument"
	}
	return "unknown"
}

// RequestErrorKind is the closed set of reasons a request fails to decode.
type RequestErrorKind uint8

const (
	DecodeFailed RequestErrorKind = iota + 1
	UnsupportedCharset
	EmptyRequest
	NoVersion
	NoCommand
	InvalidSeparator
	NoIndex
)

// Class reports which group k belongs to.
func (k RequestErrorKind) Class() RequestErrorClass {
	switch k {
	case DecodeFailed, UnsupportedCharset:
		return ClassCharset
	case EmptyRequest, NoVersion, NoCommand:
		return ClassVersionLine
	case InvalidSeparator, NoIndex:
		return ClassArgument
	}
	return 0
}

func (k RequestErrorKind) String() string {
	switch k {
	case DecodeFailed:
		return "decode failed"
	case UnsupportedCharset:
		return "unsupported charset"
	case EmptyRequest:
		return "empty request"
	case NoVersion:
		return "no version"
	case NoCommand:
		return "no command"
	case InvalidSeparator:
		return "invalid separator"
	case NoIndex:
		return "no index"
	}
	return "unknown"
}

// RequestError is returned by DecodeRequest. Detail carries the offending
// token or the underlying codec error text, and is informational only.
type RequestError struct {
	Kind   RequestErrorKind
	Detail string
}

func (e *RequestError) Error() string {
	msg := "saori: " + e.Kind.Class().String() + ": " + e.Kind.String()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is matches any *RequestError of the same Kind, so the ErrXxx values
// below work with errors.Is regardless of Detail.
func (e *RequestError) Is(target error) bool {
	t, ok := target.(*RequestError)
	return ok && t.Kind == e.Kind
}

// Decode errors, for use with errors.Is.
var (
	ErrDecodeFailed       = &RequestError{Kind: DecodeFailed}
	ErrUnsupportedCharset = &RequestError{Kind: UnsupportedCharset}
	ErrEmptyRequest       = &RequestError{Kind: EmptyRequest}
	ErrNoVersion          = &RequestError{Kind: NoVersion}
	ErrNoCommand          = &RequestError{Kind: NoCommand}
	ErrInvalidSeparator   = &RequestError{Kind: InvalidSeparator}
	ErrNoIndex            = &RequestError{Kind: NoIndex}
)

var (
	// ErrEncodeFailed is wrapped by Response.Bytes and Request.Bytes when
	// the text cannot be represented in the target charset.
	ErrEncodeFailed = errors.New("saori: encode failed")

	// ErrMalformedResponse is wrapped by DecodeResponse.
	ErrMalformedResponse = errors.New("saori: malformed response")
)
