// Package textenc converts text payloads to UTF-8.
//
// e-Stat serves its CSV files in Shift_JIS (cp932) far more often than not,
// and the Content-Type charset it sends is unreliable, so detection works on
// the payload bytes alone: try Shift_JIS first, then UTF-8, then fall back to
// a generic detector.
package textenc

import (
	"bytes"
	"errors"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// ErrUnknownEncoding is returned when no candidate encoding fits the payload.
var ErrUnknownEncoding = errors.New("textenc: could not detect encoding")

const (
	NameShiftJIS = "shift_jis"
	NameUTF8     = "utf-8"
)

// ToUTF8 transcodes b to UTF-8 and reports the encoding it decided on.
// When detection fails it returns the input bytes unchanged alongside
// ErrUnknownEncoding; callers treat that as a warning, not a failure.
func ToUTF8(b []byte) ([]byte, string, error) {
	// Shift_JIS first: it is the common case for e-Stat and plain ASCII
	// decodes identically under either candidate.
	if decoded, ok := decodeShiftJIS(b); ok {
		return decoded, NameShiftJIS, nil
	}

	if utf8.Valid(b) {
		return b, NameUTF8, nil
	}

	// Generic detection, only trusted when the detector is certain.
	if enc, name, certain := charset.DetermineEncoding(b, ""); certain && enc != nil {
		decoded, _, err := transform.Bytes(enc.NewDecoder(), b)
		if err == nil {
			return decoded, name, nil
		}
	}

	return b, "", ErrUnknownEncoding
}

// decodeShiftJIS attempts a strict Shift_JIS decode. The x/text decoder
// substitutes U+FFFD for invalid sequences rather than failing, so a decode
// that produced a replacement rune is treated as a mismatch. Raw Shift_JIS
// input can never decode to U+FFFD, which makes the check safe.
func decodeShiftJIS(b []byte) ([]byte, bool) {
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b)
	if err != nil {
		return nil, false
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil, false
	}
	return decoded, true
}
