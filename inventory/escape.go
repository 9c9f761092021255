package inventory

import "strings"

const hexDigits = "0123456789ABCDEF"

func needsEscape(b byte) bool {
	return b <= 0x1F || b == ' ' || b == '%'
}

// EscapeName percent-encodes the bytes that would break the
// whitespace-delimited record format: control bytes (0x00-0x1F),
// space and the percent sign itself. Every other byte, including
// non-ASCII, passes through untouched, so arbitrary path byte
// sequences survive the text output and decode back exactly.
func EscapeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		b := name[i]
		if needsEscape(b) {
			sb.WriteByte('%')
			sb.WriteByte(hexDigits[b>>4])
			sb.WriteByte(hexDigits[b&0xF])
		} else {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// UnescapeName reverses EscapeName. Malformed or truncated escapes
// are passed through verbatim.
func UnescapeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			hi := hexVal(name[i+1])
			lo := hexVal(name[i+2])
			if hi >= 0 && lo >= 0 {
				sb.WriteByte(byte(hi<<4 | lo))
				i += 2
				continue
			}
		}
		sb.WriteByte(name[i])
	}
	return sb.String()
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	}
	return -1
}
