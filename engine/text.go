package engine

import (
	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DecodeUTF16 converts a UTF-16LE byte buffer from the engine into a Go
// string. PDFium terminates its strings with a UTF-16 NUL, which is
// stripped along with anything after it.
func DecodeUTF16(raw []byte) (string, error) {
	if len(raw)%2 == 1 {
		raw = raw[:len(raw)-1]
	}
	for i := 0; i+1 < len(raw); i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			raw = raw[:i]
			break
		}
	}
	if len(raw) == 0 {
		return "", nil
	}

	decoded, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// EncodeUTF16 converts a Go string into a NUL-terminated UTF-16LE buffer
// for engine calls that take wide strings.
func EncodeUTF16(s string) ([]byte, error) {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(encoded, 0, 0), nil
}
