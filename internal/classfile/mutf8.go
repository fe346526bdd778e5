package classfile

import "unicode/utf16"

// Constant pool text uses the JVM's modified UTF-8: U+0000 is encoded as
// C0 80 and supplementary characters as a pair of three-byte surrogates.

// decodeMUTF8 decodes modified UTF-8. Malformed sequences decode byte by
// byte as Latin-1 so that matching never fails on odd input; the original
// bytes are kept separately for re-emission.
func decodeMUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0 && i+1 < len(b) && b[i+1]&0xc0 == 0x80:
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0 && i+2 < len(b) && b[i+1]&0xc0 == 0x80 && b[i+2]&0xc0 == 0x80:
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			units = append(units, uint16(c))
			i++
		}
	}
	return string(utf16.Decode(units))
}

// encodeMUTF8 encodes s as modified UTF-8.
func encodeMUTF8(s string) []byte {
	plain := true
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			plain = false
			break
		}
	}
	if plain {
		return []byte(s)
	}

	out := make([]byte, 0, len(s)+8)
	for _, r := range s {
		if r > 0xffff {
			hi, lo := utf16.EncodeRune(r)
			out = appendUnit(out, uint16(hi))
			out = appendUnit(out, uint16(lo))
			continue
		}
		out = appendUnit(out, uint16(r))
	}
	return out
}

func appendUnit(out []byte, u uint16) []byte {
	switch {
	case u != 0 && u < 0x80:
		return append(out, byte(u))
	case u < 0x800:
		return append(out, 0xc0|byte(u>>6), 0x80|byte(u&0x3f))
	default:
		return append(out, 0xe0|byte(u>>12), 0x80|byte(u>>6&0x3f), 0x80|byte(u&0x3f))
	}
}
