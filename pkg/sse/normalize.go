package sse

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalizer incrementally decodes raw stream bytes into text.
//
// It strips a byte-order mark at the start of the stream, replaces invalid
// UTF-8 sequences with U+FFFD, and collapses CRLF and lone CR line endings
// to LF. Chunks may split anywhere, including inside a multi-byte sequence
// or between a CR and its LF; the incomplete tail is carried to the next
// Decode call.
type Normalizer struct {
	checkedBOM bool
	pendingCR  bool
	partial    []byte
}

// Decode consumes the next raw chunk and returns the normalized text that
// is complete so far. Held-back bytes are prepended to the next chunk.
func (n *Normalizer) Decode(chunk []byte) string {
	buf := chunk
	if len(n.partial) > 0 {
		buf = make([]byte, 0, len(n.partial)+len(chunk))
		buf = append(buf, n.partial...)
		buf = append(buf, chunk...)
		n.partial = nil
	}
	if len(buf) == 0 {
		return ""
	}

	if !n.checkedBOM {
		if len(buf) < len(utf8BOM) && bytes.HasPrefix(utf8BOM, buf) {
			// Cannot tell yet whether the stream starts with a BOM.
			n.partial = buf
			return ""
		}
		n.checkedBOM = true
		buf = bytes.TrimPrefix(buf, utf8BOM)
	}

	// Hold back a truncated multi-byte sequence at the end of the chunk.
	if tail := incompleteTailLen(buf); tail > 0 {
		n.partial = append([]byte(nil), buf[len(buf)-tail:]...)
		buf = buf[:len(buf)-tail]
	}

	var out strings.Builder
	out.Grow(len(buf))

	for i := 0; i < len(buf); {
		c := buf[i]
		switch {
		case c == '\r':
			n.pendingCR = true
			out.WriteByte('\n')
			i++
		case c == '\n':
			if n.pendingCR {
				// Second half of a CRLF pair, already emitted.
				n.pendingCR = false
			} else {
				out.WriteByte('\n')
			}
			i++
		case c < utf8.RuneSelf:
			n.pendingCR = false
			out.WriteByte(c)
			i++
		default:
			n.pendingCR = false
			r, size := utf8.DecodeRune(buf[i:])
			out.WriteRune(r)
			i += size
		}
	}
	return out.String()
}

// incompleteTailLen returns how many bytes at the end of b form the start
// of a UTF-8 sequence that has not fully arrived yet.
func incompleteTailLen(b []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c&0xC0 == 0x80 {
			// Continuation byte, keep looking for the rune start.
			continue
		}
		if c < 0x80 {
			return 0
		}
		if need := leadRuneLen(c); need > i {
			return i
		}
		return 0
	}
	return 0
}

// leadRuneLen returns the encoded length implied by a UTF-8 leading byte.
func leadRuneLen(c byte) int {
	switch {
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		// Invalid lead byte; let the decoder replace it.
		return 1
	}
}
