package server

import "strings"

// Sanitize strips suspicious escape-like byte sequences before the pipeline
// sees the source: ANSI CSI sequences (ESC '[', parameter bytes 0x30-0x3F
// and a final byte 0x40-0x7E) and raw control bytes other than tab, newline
// and carriage return. Whitespace and comments are never touched.
func Sanitize(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == 0x1b && i+1 < len(src) && src[i+1] == '[' {
			i += 2
			for i < len(src) && src[i] >= 0x30 && src[i] <= 0x3F {
				i++
			}
			if i >= len(src) || src[i] < 0x40 || src[i] > 0x7E {
				i-- // no final byte: resume at this byte
			}
			continue
		}
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			continue
		}
		if c == 0x7F {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
