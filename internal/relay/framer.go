package relay

import (
	"bytes"
	"strings"
)

// replacementChar substitutes invalid UTF-8 sequences in framed lines.
const replacementChar = "�"

// Framer turns arbitrarily split upstream chunks into complete lines. A
// Framer belongs to exactly one stream and is not safe for concurrent use.
//
// Bytes are buffered raw and only decoded once a line is complete, so a
// multi-byte rune split across two chunks survives intact.
type Framer struct {
	buf []byte
}

// Feed appends raw to the retained buffer and returns every complete,
// whitespace-trimmed, non-empty line in arrival order.
func (f *Framer) Feed(raw []byte) []string {
	f.buf = append(f.buf, raw...)
	var lines []string
	start := 0
	for {
		idx := bytes.IndexByte(f.buf[start:], '\n')
		if idx < 0 {
			break
		}
		if line := decodeLine(f.buf[start : start+idx]); line != "" {
			lines = append(lines, line)
		}
		start += idx + 1
	}
	if start > 0 {
		n := copy(f.buf, f.buf[start:])
		f.buf = f.buf[:n]
	}
	return lines
}

// Pending returns the unterminated remainder without consuming it.
func (f *Framer) Pending() string {
	return strings.ToValidUTF8(string(f.buf), replacementChar)
}

// Flush consumes the unterminated remainder and returns it trimmed. Used at
// end of stream when the upstream closes without a final newline.
func (f *Framer) Flush() string {
	line := decodeLine(f.buf)
	f.buf = f.buf[:0]
	return line
}

func decodeLine(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), replacementChar))
}
