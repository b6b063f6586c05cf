package protocol

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Charset is one of the text encodings a SAORI message may declare.
// The zero value is Shift_JIS, the protocol default when no Charset
// header is present.
type Charset uint8

const (
	CharsetShiftJIS Charset = iota
	CharsetEUCJP
	CharsetUTF8
	CharsetISO2022JP
)

// Charsets lists every supported charset in declaration order.
var Charsets = []Charset{CharsetShiftJIS, CharsetEUCJP, CharsetUTF8, CharsetISO2022JP}

// String returns the wire name used in the Charset header.
func (c Charset) String() string {
	switch c {
	case CharsetShiftJIS:
		return "Shift_JIS"
	case CharsetEUCJP:
		return "EUC-JP"
	case CharsetUTF8:
		return "UTF-8"
	case CharsetISO2022JP:
		return "ISO-2022-JP"
	}
	return fmt.Sprintf("Charset(%d)", uint8(c))
}

// ParseCharset maps a wire name to its Charset. The match is exact and
// case-sensitive.
func ParseCharset(name string) (Charset, error) {
	switch name {
	case "Shift_JIS":
		return CharsetShiftJIS, nil
	case "EUC-JP":
		return CharsetEUCJP, nil
	case "UTF-8":
		return CharsetUTF8, nil
	case "ISO-2022-JP":
		return CharsetISO2022JP, nil
	}
	return 0, &RequestError{Kind: UnsupportedCharset, Detail: name}
}

func (c Charset) encoding() encoding.Encoding {
	switch c {
	case CharsetShiftJIS:
		return japanese.ShiftJIS
	case CharsetEUCJP:
		return japanese.EUCJP
	case CharsetISO2022JP:
		return japanese.ISO2022JP
	}
	return nil
}

// Decode converts b to text, failing on any byte sequence that is not
// valid in c. Nothing is silently replaced.
func (c Charset) Decode(b []byte) (string, error) {
	if c == CharsetUTF8 {
		out, _, err := transform.Bytes(encoding.UTF8Validator, b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	enc := c.encoding()
	if enc == nil {
		return "", fmt.Errorf("no codec for %v", c)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	// The Japanese decoders substitute U+FFFD for invalid input. That rune
	// has no encoding in these charsets, so its presence means bad bytes.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", fmt.Errorf("invalid %v byte sequence", c)
	}
	return string(out), nil
}

// Encode converts s to bytes in c. Runes that c cannot represent are an
// error rather than being replaced.
func (c Charset) Encode(s string) ([]byte, error) {
	if c == CharsetUTF8 {
		out, _, err := transform.Bytes(encoding.UTF8Validator, []byte(s))
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	enc := c.encoding()
	if enc == nil {
		return nil, fmt.Errorf("no codec for %v", c)
	}
	return enc.NewEncoder().Bytes([]byte(s))
}
