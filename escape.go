package korniszon

import (
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Escape handling for the text opcodes. STRING operands carry the escape set
// of a Python2 string literal, UNICODE operands the raw-unicode-escape codec
// with \uXXXX and \UXXXXXXXX sequences. The quote* functions are the inverse
// direction used by the encoder; they emit only sequences the decode
// functions accept, so protocol 0 output can be fed back in.

// escapeError reports the offending escape character together with up to 80
// characters of the operand for context.
func escapeError(c byte, s string) *DecodeError {
	ctx := s
	if len(ctx) > 80 {
		ctx = ctx[:80] + " [...]"
	}
	return &DecodeError{
		Kind: ErrBadEscape,
		Msg:  fmt.Sprintf("invalid escape sequence char %q in string %q", c, ctx),
	}
}

// decodeStringEscape decodes a STRING operand with its surrounding quotes
// already stripped. Escapes handled: \\ \' \" \n \r \t \xHH.
func decodeStringEscape(s string) (ByteString, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 >= len(s) {
			return "", escapeError('\\', s)
		}
		i++
		switch e := s[i]; e {
		case '\\':
			out = append(out, '\\')
		case '\'':
			out = append(out, '\'')
		case '"':
			out = append(out, '"')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'x':
			if i+2 >= len(s) {
				return "", escapeError('x', s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", escapeError('x', s)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return "", escapeError(e, s)
		}
	}
	return ByteString(out), nil
}

// decodeUnicodeEscape decodes a UNICODE operand. Non-escape bytes pass
// through as UTF-8. Escapes handled: \\ \n \r \t \uHHHH \UHHHHHHHH.
func decodeUnicodeEscape(s string) (string, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 >= len(s) {
			return "", escapeError('\\', s)
		}
		i++
		switch e := s[i]; e {
		case '\\':
			out = append(out, '\\')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			r, err := hexRune(s, i+1, 4)
			if err != nil {
				return "", err
			}
			out = utf8.AppendRune(out, r)
			i += 4
		case 'U':
			r, err := hexRune(s, i+1, 8)
			if err != nil {
				return "", err
			}
			out = utf8.AppendRune(out, r)
			i += 8
		default:
			return "", escapeError(e, s)
		}
	}
	return string(out), nil
}

// hexRune parses n hex digits of s starting at i into a code point.
func hexRune(s string, i, n int) (rune, error) {
	if i+n > len(s) {
		return 0, escapeError(s[i-1], s)
	}
	v, err := strconv.ParseUint(s[i:i+n], 16, 32)
	if err != nil || v > utf8.MaxRune {
		return 0, escapeError(s[i-1], s)
	}
	return rune(v), nil
}

// quoteByteString quotes s for a STRING operand, using only the escapes
// decodeStringEscape understands. Bytes outside printable ASCII become \xHH.
func quoteByteString(s string) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == '"':
			out = append(out, '\\', c)
		case c == '\n':
			out = append(out, '\\', 'n')
		case c == '\r':
			out = append(out, '\\', 'r')
		case c == '\t':
			out = append(out, '\\', 't')
		case 0x20 <= c && c < 0x7f:
			out = append(out, c)
		default:
			out = append(out, '\\', 'x', hexdigits[c>>4], hexdigits[c&0xf])
		}
	}
	out = append(out, '"')
	return string(out)
}

// quoteUnicode escapes s for a UNICODE operand, using only the escapes
// decodeUnicodeEscape understands. The operand is line-terminated, so the
// backslash and all control characters go out as \uHHHH.
func quoteUnicode(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r == '\\':
			out = append(out, '\\', '\\')
		case 0x20 <= r && r < 0x7f:
			out = append(out, byte(r))
		case r > 0xffff:
			out = append(out, fmt.Sprintf(`\U%08x`, r)...)
		default:
			out = append(out, fmt.Sprintf(`\u%04x`, r)...)
		}
	}
	return string(out)
}
