package protocol

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

func mustDecode(t *testing.T, raw string) *Request {
	t.Helper()
	req, err := DecodeRequest([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeRequest(%q): %v", raw, err)
	}
	return req
}

const (
	sjisExecute    = "EXECUTE SAORI/1.0\r\nCharset: Shift_JIS\r\n\r\n\x00"
	sjisGetVersion = "GET Version SAORI/1.0\r\nCharset: Shift_JIS\r\n\r\n\x00"
)

func TestNewBadRequestResponse(t *testing.T) {
	resp := NewBadRequestResponse()

	if resp.Status() != StatusBadRequest {
		t.Errorf("Status: got %v, want 400 Bad Request", resp.Status())
	}
	if resp.Charset() != CharsetUTF8 {
		t.Errorf("Charset: got %v, want UTF-8", resp.Charset())
	}
	if resp.Version() != Version10 {
		t.Errorf("Version: got %v, want SAORI/1.0", resp.Version())
	}

	got, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := "SAORI/1.0 400 Bad Request\r\nCharset: UTF-8\r\n\r\n\x00"
	if string(got) != want {
		t.Errorf("Bytes: got %q, want %q", got, want)
	}
}

func TestNewResponseFromRequest(t *testing.T) {
	resp := NewResponse(mustDecode(t, sjisExecute))

	if resp.Status() != StatusNoContent {
		t.Errorf("Status: got %v, want 204 No Content", resp.Status())
	}
	if resp.Charset() != CharsetShiftJIS {
		t.Errorf("Charset: got %v, want Shift_JIS", resp.Charset())
	}
	if resp.Result() != "" || len(resp.Values()) != 0 {
		t.Errorf("expected empty result and values, got %q %q", resp.Result(), resp.Values())
	}
}

func TestSetResultStatus(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   Status
	}{
		{"non-empty", "aaa", StatusOK},
		{"empty", "", StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse(mustDecode(t, sjisExecute))
			resp.SetResult(tt.result)
			if resp.Status() != tt.want {
				t.Errorf("Status: got %v, want %v", resp.Status(), tt.want)
			}
			if resp.Result() != tt.result {
				t.Errorf("Result: got %q, want %q", resp.Result(), tt.result)
			}
		})
	}
}

func TestSetValueAt(t *testing.T) {
	t.Run("inside", func(t *testing.T) {
		resp := NewResponse(mustDecode(t, sjisExecute))
		resp.SetValues([]string{"aaa", "bbb"})
		resp.SetValueAt(1, "bbb002")
		want := []string{"aaa", "bbb002"}
		if got := resp.Values(); !slices.Equal(got, want) {
			t.Errorf("Values: got %q, want %q", got, want)
		}
		if resp.Status() != StatusOK {
			t.Errorf("Status: got %v, want OK", resp.Status())
		}
	})

	t.Run("outside", func(t *testing.T) {
		resp := NewResponse(mustDecode(t, sjisExecute))
		resp.SetValueAt(1, "bbb002")
		want := []string{"", "bbb002"}
		if got := resp.Values(); !slices.Equal(got, want) {
			t.Errorf("Values: got %q, want %q", got, want)
		}
		if resp.Status() != StatusOK {
			t.Errorf("Status: got %v, want OK", resp.Status())
		}
	})
}

func TestSetValuesStatus(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   Status
	}{
		{"some values", []string{"aaa", "bbb"}, StatusOK},
		{"nil", nil, StatusNoContent},
		{"empty", []string{}, StatusNoContent},
		{"all blank", []string{"", "", ""}, StatusNoContent},
		{"one non-blank", []string{"", "x", ""}, StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse(mustDecode(t, sjisExecute))
			resp.SetValues(tt.values)
			if resp.Status() != tt.want {
				t.Errorf("Status: got %v, want %v", resp.Status(), tt.want)
			}
		})
	}
}

func TestStatusDerivationSequence(t *testing.T) {
	resp := NewBadRequestResponse()
	resp.SetStatus(StatusOK)
	resp.SetValues([]string{"", "", ""})
	if resp.Status() != StatusNoContent {
		t.Fatalf("after blank values: got %v, want No Content", resp.Status())
	}
	resp.SetValueAt(3, "aaa")
	if resp.Status() != StatusOK {
		t.Fatalf("after SetValueAt: got %v, want OK", resp.Status())
	}
	resp.SetValueAt(3, "")
	if resp.Status() != StatusNoContent {
		t.Fatalf("after clearing value: got %v, want No Content", resp.Status())
	}
	resp.SetResult("r")
	if resp.Status() != StatusOK {
		t.Fatalf("after SetResult: got %v, want OK", resp.Status())
	}
	resp.SetResult("")
	if resp.Status() != StatusNoContent {
		t.Fatalf("after clearing result: got %v, want No Content", resp.Status())
	}
}

func TestStickyStatus(t *testing.T) {
	for _, sticky := range []Status{StatusBadRequest, StatusInternalServerError} {
		t.Run(sticky.String(), func(t *testing.T) {
			resp := NewResponse(mustDecode(t, sjisExecute))
			resp.SetStatus(sticky)
			resp.SetResult("1")
			resp.SetValues([]string{"a"})
			resp.SetValueAt(4, "b")
			if resp.Status() != sticky {
				t.Errorf("Status: got %v, want %v", resp.Status(), sticky)
			}
		})
	}
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		current Status
		result  string
		values  []string
		want    Status
	}{
		{StatusNoContent, "", nil, StatusNoContent},
		{StatusNoContent, "x", nil, StatusOK},
		{StatusOK, "", []string{""}, StatusNoContent},
		{StatusOK, "", []string{"", "v"}, StatusOK},
		{StatusBadRequest, "x", []string{"v"}, StatusBadRequest},
		{StatusInternalServerError, "", nil, StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := nextStatus(tt.current, tt.result, tt.values); got != tt.want {
			t.Errorf("nextStatus(%v, %q, %q): got %v, want %v", tt.current, tt.result, tt.values, got, tt.want)
		}
	}
}

func TestResponseString(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *Response
		want  string
	}{
		{
			name:  "bad request",
			build: func(t *testing.T) *Response { return NewBadRequestResponse() },
			want:  "SAORI/1.0 400 Bad Request\r\nCharset: UTF-8\r\n\r\n\x00",
		},
		{
			name: "internal server error hides body",
			build: func(t *testing.T) *Response {
				r := NewBadRequestResponse()
				r.SetStatus(StatusInternalServerError)
				r.SetResult("1")
				return r
			},
			want: "SAORI/1.0 500 Internal Server Error\r\nCharset: UTF-8\r\n\r\n\x00",
		},
		{
			name:  "no content",
			build: func(t *testing.T) *Response { return NewResponse(mustDecode(t, sjisGetVersion)) },
			want:  "SAORI/1.0 204 No Content\r\nCharset: Shift_JIS\r\n\r\n\x00",
		},
		{
			name: "result only",
			build: func(t *testing.T) *Response {
				r := NewResponse(mustDecode(t, sjisGetVersion))
				r.SetResult("1")
				return r
			},
			want: "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\nResult: 1\r\n\r\n\x00",
		},
		{
			name: "result with values",
			build: func(t *testing.T) *Response {
				r := NewResponse(mustDecode(t, sjisExecute))
				r.SetResult("1")
				r.SetValues([]string{"aaa", "bbb"})
				return r
			},
			want: "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\nResult: 1\r\nValue0: aaa\r\nValue1: bbb\r\n\r\n\x00",
		},
		{
			name: "values only",
			build: func(t *testing.T) *Response {
				r := NewResponse(mustDecode(t, sjisExecute))
				r.SetValues([]string{"aaa", "bbb"})
				return r
			},
			want: "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\nValue0: aaa\r\nValue1: bbb\r\n\r\n\x00",
		},
		{
			name: "gap-filled values",
			build: func(t *testing.T) *Response {
				r := NewResponse(mustDecode(t, sjisExecute))
				r.SetValueAt(2, "c")
				return r
			},
			want: "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\nValue0: \r\nValue1: \r\nValue2: c\r\n\r\n\x00",
		},
		{
			name: "forced ok with nothing to send",
			build: func(t *testing.T) *Response {
				r := NewResponse(mustDecode(t, sjisGetVersion))
				r.SetStatus(StatusOK)
				return r
			},
			want: "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\n\r\n\x00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(t).String(); got != tt.want {
				t.Errorf("String:\n got %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestResponseBytesUTF8Scenario(t *testing.T) {
	resp := NewResponse(mustDecode(t, "EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\n\r\n\x00"))
	resp.SetResult("1")
	resp.SetValues([]string{"aaa", "bbb"})

	got, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := []byte("SAORI/1.0 200 OK\r\nCharset: UTF-8\r\nResult: 1\r\nValue0: aaa\r\nValue1: bbb\r\n\r\n\x00")
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, want %q", got, want)
	}
}

func TestResponseBytesShiftJIS(t *testing.T) {
	resp := NewResponse(mustDecode(t, sjisExecute))
	resp.SetResult("結果")
	resp.SetValues([]string{"値"})

	got, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	want := mustEncode(t, CharsetShiftJIS, "SAORI/1.0 200 OK\r\nCharset: Shift_JIS\r\nResult: 結果\r\nValue0: 値\r\n\r\n\x00")
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %x, want %x", got, want)
	}

	decoded, err := CharsetShiftJIS.Decode(got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != resp.String() {
		t.Errorf("decoded bytes: got %q, want %q", decoded, resp.String())
	}
}

func TestResponseBytesIdempotent(t *testing.T) {
	resp := NewResponse(mustDecode(t, sjisExecute))
	resp.SetResult("1")
	resp.SetValueAt(1, "x")

	first, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	second, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("serialization not repeatable: %q vs %q", first, second)
	}
}

func TestResponseBytesEncodeFailed(t *testing.T) {
	tests := []struct {
		name    string
		charset string
		value   string
	}{
		{"emoji in shift_jis", "Shift_JIS", "😀"},
		{"emoji in euc-jp", "EUC-JP", "😀"},
		{"invalid utf-8", "UTF-8", "\xff\xfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewResponse(mustDecode(t, "EXECUTE SAORI/1.0\r\nCharset: "+tt.charset+"\r\n\r\n"))
			resp.SetResult(tt.value)
			_, err := resp.Bytes()
			if !errors.Is(err, ErrEncodeFailed) {
				t.Fatalf("got %v, want ErrEncodeFailed", err)
			}
		})
	}
}

func TestErrorBytes(t *testing.T) {
	want := "SAORI/1.0 500 Internal Server Error\r\nCharset: UTF-8\r\n\r\n\x00"
	got := ErrorBytes()
	if string(got) != want {
		t.Fatalf("ErrorBytes: got %q, want %q", got, want)
	}

	got[0] = 'X'
	if string(ErrorBytes()) != want {
		t.Error("ErrorBytes returned shared storage")
	}

	resp := NewBadRequestResponse()
	resp.SetStatus(StatusInternalServerError)
	rendered, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(rendered) != want {
		t.Errorf("pipeline rendering differs from constant: %q", rendered)
	}
}

func TestRoundtripNoContent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"declared utf-8", "EXECUTE SAORI/1.0\r\nCharset: UTF-8\r\nArgument0: a\r\n\r\n\x00", "UTF-8"},
		{"declared euc-jp", "GET Version SAORI/1.0\r\nCharset: EUC-JP\r\n\r\n\x00", "EUC-JP"},
		{"default", "EXECUTE SAORI/1.0\r\nSender: x\r\n\r\n\x00", "Shift_JIS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewResponse(mustDecode(t, tt.raw)).Bytes()
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			want := "SAORI/1.0 204 No Content\r\nCharset: " + tt.want + "\r\n\r\n\x00"
			if string(out) != want {
				t.Errorf("got %q, want %q", out, want)
			}
		})
	}
}

func TestResponseValuesCopied(t *testing.T) {
	in := []string{"a", "b"}
	resp := NewBadRequestResponse()
	resp.SetStatus(StatusNoContent)
	resp.SetValues(in)
	in[0] = "changed"

	out := resp.Values()
	out[1] = "changed"

	want := []string{"a", "b"}
	if got := resp.Values(); !slices.Equal(got, want) {
		t.Errorf("Values: got %q, want %q", got, want)
	}
}

func TestDecodeResponse(t *testing.T) {
	resp := NewResponse(mustDecode(t, "EXECUTE SAORI/1.0\r\nCharset: EUC-JP\r\n\r\n"))
	resp.SetResult("はい")
	resp.SetValueAt(2, "三")
	raw, err := resp.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	got, err := DecodeResponse(raw)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.Status() != StatusOK {
		t.Errorf("Status: got %v, want OK", got.Status())
	}
	if got.Charset() != CharsetEUCJP {
		t.Errorf("Charset: got %v, want EUC-JP", got.Charset())
	}
	if got.Result() != "はい" {
		t.Errorf("Result: got %q, want はい", got.Result())
	}
	if want := []string{"", "", "三"}; !slices.Equal(got.Values(), want) {
		t.Errorf("Values: got %q, want %q", got.Values(), want)
	}
	if got.String() != resp.String() {
		t.Errorf("String: got %q, want %q", got.String(), resp.String())
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrMalformedResponse},
		{"no space", "SAORI/1.0\r\n", ErrMalformedResponse},
		{"unknown version", "SAORI/2.0 200 OK\r\n", ErrMalformedResponse},
		{"bad code", "SAORI/1.0 abc OK\r\n", ErrMalformedResponse},
		{"phrase mismatch", "SAORI/1.0 200 Fine\r\n", ErrMalformedResponse},
		{"unknown code", "SAORI/1.0 418 I'm a teapot\r\n", ErrMalformedResponse},
		{"bad value line", "SAORI/1.0 200 OK\r\nCharset: UTF-8\r\nValueX: a\r\n", ErrMalformedResponse},
		{"bad charset", "SAORI/1.0 200 OK\r\nCharset: KOI8-R\r\n", ErrUnsupportedCharset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStatusFromCode(t *testing.T) {
	for _, s := range statuses {
		got, ok := StatusFromCode(s.Code())
		if !ok || got != s {
			t.Errorf("StatusFromCode(%d): got %v/%v, want %v", s.Code(), got, ok, s)
		}
	}
	if _, ok := StatusFromCode(302); ok {
		t.Error("StatusFromCode(302): expected no match")
	}
}
