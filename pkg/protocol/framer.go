package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// MaxLineLen bounds the partial-line buffer. A line longer than this is
// noise (wrong baud rate, binary output) and is dropped.
const MaxLineLen = 16 * 1024

// Framer splits a byte stream into newline-delimited lines, holding back
// the trailing fragment until its newline arrives.
//
// Buffering happens on bytes, not decoded text: '\n' never occurs inside a
// multi-byte UTF-8 sequence, so a rune split across two reads is rejoined
// before the line is decoded.
type Framer struct {
	buf     []byte
	discard bool
}

// Push appends a chunk and returns every complete, trimmed, non-empty line.
func (f *Framer) Push(chunk []byte) []string {
	var lines []string

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.append(chunk)
			break
		}

		f.append(chunk[:i])
		if !f.discard {
			if line := decodeLine(f.buf); line != "" {
				lines = append(lines, line)
			}
		}
		f.buf = f.buf[:0]
		f.discard = false
		chunk = chunk[i+1:]
	}

	return lines
}

// Pending returns the number of buffered bytes without a newline yet.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any partial line.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.discard = false
}

func (f *Framer) append(b []byte) {
	if f.discard {
		return
	}
	if len(f.buf)+len(b) > MaxLineLen {
		log.Debug().Int("len", len(f.buf)+len(b)).Msg("Serial line too long, discarding")
		f.buf = f.buf[:0]
		f.discard = true
		return
	}
	f.buf = append(f.buf, b...)
}

func decodeLine(b []byte) string {
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.TrimSpace(s)
}
