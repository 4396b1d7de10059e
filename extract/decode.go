package extract

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/lexandro/tokenindex-mcp/indexerr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// decoder turns raw file bytes into UTF-8 text.
type decoder struct {
	fallback     encoding.Encoding
	fallbackName string
}

// newDecoder resolves the optional fallback encoding by its WHATWG name
// (e.g. "windows-1252", "shift_jis").
func newDecoder(fallbackName string) (*decoder, error) {
	d := &decoder{fallbackName: fallbackName}
	if fallbackName == "" {
		return d, nil
	}
	enc, err := htmlindex.Get(fallbackName)
	if err != nil {
		return nil, fmt.Errorf("unknown decode fallback %q: %w", fallbackName, err)
	}
	d.fallback = enc
	return d, nil
}

// decode accepts UTF-8 (with or without BOM) and BOM-marked UTF-16, then the
// fallback encoding. Anything else is a DecodeError.
func (d *decoder) decode(path string, data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		data = data[len(bomUTF8):]
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", &indexerr.DecodeError{Path: path, Encoding: "UTF-16"}
		}
		return string(out), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	if d.fallback != nil {
		out, err := d.fallback.NewDecoder().Bytes(data)
		if err == nil {
			return string(out), nil
		}
	}
	return "", &indexerr.DecodeError{Path: path, Offset: firstInvalid(data), Encoding: "UTF-8"}
}

func firstInvalid(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}
