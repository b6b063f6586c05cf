package protocol

import (
	"errors"
	"slices"
	"testing"
)

func mustEncode(t *testing.T, c Charset, s string) []byte {
	t.Helper()
	b, err := c.Encode(s)
	if err != nil {
		t.Fatalf("encode %v: %v", c, err)
	}
	return b
}

func TestDecodeRequestShiftJISGetVersion(t *testing.T) {
	raw := mustEncode(t, CharsetShiftJIS, "GET Version SAORI/1.0\r\nCharset: Shift_JIS\r\n\r\n")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Charset() != CharsetShiftJIS {
		t.Errorf("Charset: got %v, want Shift_JIS", req.Charset())
	}
	if req.Command() != CommandGetVersion {
		t.Errorf("Command: got %v, want GET Version", req.Command())
	}
	if req.Version() != Version10 {
		t.Errorf("Version: got %v, want SAORI/1.0", req.Version())
	}
	if level, ok := req.SecurityLevel(); ok {
		t.Errorf("SecurityLevel: got %v, want none", level)
	}
	if len(req.Arguments()) != 0 {
		t.Errorf("Arguments: got %q, want none", req.Arguments())
	}
	if sender, ok := req.Sender(); ok {
		t.Errorf("Sender: got %q, want none", sender)
	}
}

func TestDecodeRequestExecuteUTF8(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nSecurityLevel: External\r\nArgument0: foo\r\nArgument1: あいうえお\r\nSender: host\r\n\r\n\x00")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Command() != CommandExecute {
		t.Errorf("Command: got %v, want EXECUTE", req.Command())
	}
	if req.Charset() != CharsetUTF8 {
		t.Errorf("Charset: got %v, want UTF-8", req.Charset())
	}
	if level, ok := req.SecurityLevel(); !ok || level != SecurityLevelExternal {
		t.Errorf("SecurityLevel: got %v/%v, want External", level, ok)
	}
	want := []string{"foo", "あいうえお"}
	if got := req.Arguments(); !slices.Equal(got, want) {
		t.Errorf("Arguments: got %q, want %q", got, want)
	}
	if sender, ok := req.Sender(); !ok || sender != "host" {
		t.Errorf("Sender: got %q/%v, want host", sender, ok)
	}
}

func TestDecodeRequestDefaultsToShiftJIS(t *testing.T) {
	raw := mustEncode(t, CharsetShiftJIS, "EXECUTE SAORI/1.0\r\nArgument0: 表示\r\n\r\n")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.Charset() != CharsetShiftJIS {
		t.Errorf("Charset: got %v, want Shift_JIS", req.Charset())
	}
	if got := req.Argument(0); got != "表示" {
		t.Errorf("Argument(0): got %q, want 表示", got)
	}
}

func TestDecodeRequestJapaneseCharsets(t *testing.T) {
	for _, c := range []Charset{CharsetShiftJIS, CharsetEUCJP, CharsetISO2022JP, CharsetUTF8} {
		t.Run(c.String(), func(t *testing.T) {
			text := "EXECUTE SAORI/1.0\r\nCharset: " + c.String() + "\r\nArgument0: こんにちは\r\nArgument1: ABC\r\n\r\n\x00"
			req, err := DecodeRequest(mustEncode(t, c, text))
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if req.Charset() != c {
				t.Errorf("Charset: got %v, want %v", req.Charset(), c)
			}
			want := []string{"こんにちは", "ABC"}
			if got := req.Arguments(); !slices.Equal(got, want) {
				t.Errorf("Arguments: got %q, want %q", got, want)
			}
		})
	}
}

func TestDecodeRequestArgumentGapFilling(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument2: x\r\n\r\n")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	want := []string{"", "", "x"}
	if got := req.Arguments(); !slices.Equal(got, want) {
		t.Errorf("Arguments: got %q, want %q", got, want)
	}
}

func TestDecodeRequestArgumentPlusSign(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument+1: x\r\nArgument0: f\r\n\r\n")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	want := []string{"f", "x"}
	if got := req.Arguments(); !slices.Equal(got, want) {
		t.Errorf("Arguments: got %q, want %q", got, want)
	}

	if _, err := DecodeRequest([]byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument++1: x\r\n\r\n")); !errors.Is(err, ErrNoIndex) {
		t.Errorf("double sign: got %v, want ErrNoIndex", err)
	}
}

func TestDecodeRequestArgumentOrdering(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\n" +
		"Argument3: d\r\nArgument0: a\r\nArgument1: first\r\nArgument1: b\r\n\r\n")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	want := []string{"a", "b", "", "d"}
	if got := req.Arguments(); !slices.Equal(got, want) {
		t.Errorf("Arguments: got %q, want %q", got, want)
	}
}

func TestDecodeRequestPermissiveHeaders(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\n" +
		"SecurityLevel: Local\r\nSecurityLevel: Somewhere\r\n" +
		"X-Unknown: whatever\r\nSender: a\r\nSender: b\r\n\r\n\x00")

	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if level, ok := req.SecurityLevel(); !ok || level != SecurityLevelLocal {
		t.Errorf("SecurityLevel: got %v/%v, want Local kept", level, ok)
	}
	if sender, _ := req.Sender(); sender != "b" {
		t.Errorf("Sender: got %q, want last occurrence b", sender)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{
			name: "empty",
			raw:  nil,
			want: ErrEmptyRequest,
		},
		{
			name: "missing command",
			raw:  []byte("GET SAORI/1.0\r\nCharset: Shift_JIS\r\n\r\n"),
			want: ErrNoCommand,
		},
		{
			name: "blank first line",
			raw:  []byte("\r\nCharset: UTF-8\r\n"),
			want: ErrNoCommand,
		},
		{
			name: "unknown command",
			raw:  []byte("SOMETHINGWRONG SAORI/1.0\r\n\r\n"),
			want: ErrNoCommand,
		},
		{
			name: "bad version",
			raw:  []byte("EXECUTE SAORI1.0\r\n\r\n"),
			want: ErrNoVersion,
		},
		{
			name: "shiori version",
			raw:  []byte("GET Version SHIORI/3.0\r\n\r\n"),
			want: ErrNoVersion,
		},
		{
			name: "unsupported charset",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: latin1\r\n\r\n"),
			want: ErrUnsupportedCharset,
		},
		{
			name: "charset case differs",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: utf-8\r\n\r\n"),
			want: ErrUnsupportedCharset,
		},
		{
			name: "declared utf-8 but shift_jis body",
			raw:  append([]byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument0: "), 0x82, 0xa0, '\r', '\n'),
			want: ErrDecodeFailed,
		},
		{
			name: "argument without separator",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument2 aaa\r\n\r\n"),
			want: ErrInvalidSeparator,
		},
		{
			name: "argument without index",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgumentaaa: aaa\r\n\r\n"),
			want: ErrNoIndex,
		},
		{
			name: "argument negative index",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument-1: aaa\r\n\r\n"),
			want: ErrNoIndex,
		},
		{
			name: "leading byte order mark",
			raw:  []byte("\xef\xbb\xbfEXECUTE SAORI/1.0\r\nCharset: UTF-8\r\n\r\n"),
			want: ErrNoCommand,
		},
		{
			name: "argument index too large",
			raw:  []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument99999999: aaa\r\n\r\n"),
			want: ErrNoIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest(tt.raw)
			if err == nil {
				t.Fatalf("expected error, got request %+v", req)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if req != nil {
				t.Errorf("expected no partial request, got %+v", req)
			}
		})
	}
}

func TestDecodeRequestShiftJISDeclaredUTF8Fails(t *testing.T) {
	raw := mustEncode(t, CharsetShiftJIS, "EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument0: あいうえお\r\n\r\n")

	_, err := DecodeRequest(raw)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	if reqErr.Kind != DecodeFailed {
		t.Errorf("Kind: got %v, want decode failed", reqErr.Kind)
	}
	if reqErr.Kind.Class() != ClassCharset {
		t.Errorf("Class: got %v, want charset", reqErr.Kind.Class())
	}
}

func TestRequestErrorClasses(t *testing.T) {
	tests := []struct {
		kind RequestErrorKind
		want RequestErrorClass
	}{
		{DecodeFailed, ClassCharset},
		{UnsupportedCharset, ClassCharset},
		{EmptyRequest, ClassVersionLine},
		{NoVersion, ClassVersionLine},
		{NoCommand, ClassVersionLine},
		{InvalidSeparator, ClassArgument},
		{NoIndex, ClassArgument},
	}
	for _, tt := range tests {
		if got := tt.kind.Class(); got != tt.want {
			t.Errorf("%v.Class(): got %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRequestImmutable(t *testing.T) {
	raw := []byte("EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument0: a\r\n\r\n")
	req, err := DecodeRequest(raw)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	args := req.Arguments()
	args[0] = "changed"
	if got := req.Argument(0); got != "a" {
		t.Errorf("Argument(0) after mutating copy: got %q, want a", got)
	}
	if got := req.Argument(5); got != "" {
		t.Errorf("Argument(5): got %q, want empty", got)
	}

	withSender := req.WithSender("host")
	if _, ok := req.Sender(); ok {
		t.Error("WithSender modified the original request")
	}
	if s, _ := withSender.Sender(); s != "host" {
		t.Errorf("Sender on copy: got %q, want host", s)
	}
}

func TestRequestBytesRoundtrip(t *testing.T) {
	for _, c := range Charsets {
		t.Run(c.String(), func(t *testing.T) {
			req := NewRequest(CommandExecute, c, "echo", "", "日本語").
				WithSender("materia").
				WithSecurityLevel(SecurityLevelLocal)

			raw, err := req.Bytes()
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			got, err := DecodeRequest(raw)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if got.String() != req.String() {
				t.Errorf("roundtrip mismatch:\n got %q\nwant %q", got.String(), req.String())
			}
		})
	}
}

func TestRequestString(t *testing.T) {
	req := NewRequest(CommandExecute, CharsetUTF8, "foo").WithSender("host")
	want := "EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nSender: host\r\nArgument0: foo\r\n\r\n\x00"
	if got := req.String(); got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
}

func TestLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\r\n", []string{"a"}},
		{"a\r\nb\n", []string{"a", "b"}},
		{"\r\n", []string{""}},
		{"a\r\n\r\n\x00", []string{"a", "", "\x00"}},
		{"a\r", []string{"a\r"}},
	}
	for _, tt := range tests {
		if got := lines(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("lines(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
