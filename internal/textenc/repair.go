// Package textenc repairs text that was decoded with the wrong byte
// encoding, most commonly UTF-8 bytes read as Latin-1 (mojibake).
package textenc

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// decodeOrder is the set of encodings tried for raw bytes that are not
// valid UTF-8, in the order the upstream platforms are known to emit them.
var decodeOrder = []encoding.Encoding{
	simplifiedchinese.GBK,
	simplifiedchinese.GB18030,
	charmap.ISO8859_1,
}

// DecodeBytes interprets raw bytes as text. Valid UTF-8 passes through;
// otherwise common CJK encodings are tried in order, with lossy UTF-8
// replacement as the final fallback.
func DecodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range decodeOrder {
		decoded, err := enc.NewDecoder().Bytes(b)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded)
		}
	}
	// string() replaces invalid sequences with U+FFFD.
	return string([]rune(string(b)))
}

// Repair fixes a string whose UTF-8 bytes were mis-decoded as a
// single-byte encoding (Latin-1 or Windows-1252).
//
// Detection: the string contains code points above 127, every code point
// maps back to a single byte under Windows-1252 (a display superset of
// Latin-1), and decoding the recovered bytes as UTF-8 succeeds and
// either yields a CJK code point or removes the contiguous high-byte
// pattern characteristic of mojibake. A one-level double-encoding undo
// is attempted on the repaired value. Repair is idempotent: a clean
// string, including a repaired one, passes through unchanged.
func Repair(s string) string {
	if s == "" {
		return s
	}

	fixed, ok := undoMisdecode(s)
	if !ok {
		return s
	}

	// The platform occasionally double-encodes; undo one more level when
	// the result still looks like mojibake.
	if again, ok := undoMisdecode(fixed); ok {
		return again
	}
	return fixed
}

// Repaired reports whether Repair would change s. Callers use it to log
// an encoding_repaired warning without repairing twice.
func Repaired(s string) bool {
	return Repair(s) != s
}

// undoMisdecode maps each code point back to the byte it was decoded
// from and re-decodes the byte sequence as UTF-8, returning ok=false
// when s does not look like mis-decoded UTF-8.
func undoMisdecode(s string) (string, bool) {
	hasHigh := false
	raw := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 127 {
			hasHigh = true
		}
		b, ok := runeToByte(r)
		if !ok {
			return s, false
		}
		raw = append(raw, b)
	}
	if !hasHigh || !utf8.Valid(raw) {
		return s, false
	}
	fixed := string(raw)

	if containsCJK(fixed) {
		return fixed, true
	}
	if hasGarbledPattern(s) && !hasGarbledPattern(fixed) {
		return fixed, true
	}
	return s, false
}

// runeToByte inverts a Latin-1 or Windows-1252 decode of one byte.
// Windows-1252 is consulted first so that its printable 0x80..0x9F range
// (curly quotes, dashes) round-trips; plain Latin-1 code points fall
// through to the identity mapping.
func runeToByte(r rune) (byte, bool) {
	if b, ok := charmap.Windows1252.EncodeRune(r); ok {
		return b, true
	}
	if r <= 0xFF {
		return byte(r), true
	}
	return 0, false
}

func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FFF {
			return true
		}
	}
	return false
}

// hasGarbledPattern reports the presence of C1 control range code points
// (128..159), which never appear in intentional text but are common in
// UTF-8-as-Latin-1 mojibake. Only the head of the string is inspected.
func hasGarbledPattern(s string) bool {
	n := 0
	for _, r := range s {
		if r > 127 && r < 160 {
			return true
		}
		n++
		if n >= 100 {
			break
		}
	}
	return false
}
