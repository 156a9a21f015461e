package csvutil

// streaming.go cleans CSV byte streams before they reach encoding/csv:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) written by Excel is dropped
//   - invalid UTF-8 bytes are replaced with '?'
//
// Both transforms work on the stream so large input files are never held in
// memory twice.

import (
	"bufio"
	"bytes"
	"io"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// NewCleanReader wraps r with BOM skipping and UTF-8 sanitization.
// BOM removal runs first so the sanitizer never sees the marker bytes.
func NewCleanReader(r io.Reader) io.Reader {
	return NewUTF8Sanitizer(SkipBOM(r))
}

// SkipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// UTF8Sanitizer replaces invalid UTF-8 bytes with '?' as data streams
// through. A multi-byte sequence split across two reads is carried over to
// the next call instead of being treated as invalid.
type UTF8Sanitizer struct {
	src   io.Reader
	carry []byte
}

// NewUTF8Sanitizer creates a sanitizer reading from src.
func NewUTF8Sanitizer(src io.Reader) *UTF8Sanitizer {
	return &UTF8Sanitizer{src: src, carry: make([]byte, 0, utf8.UTFMax)}
}

// Read implements io.Reader.
func (s *UTF8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := copy(p, s.carry)
	s.carry = s.carry[:0]

	m, err := s.src.Read(p[n:])
	n += m
	if n == 0 {
		return 0, err
	}

	atEOF := err == io.EOF
	return s.clean(p[:n], atEOF), err
}

// clean rewrites data in place and returns the number of bytes to emit.
// Replacement with a single '?' keeps the output no longer than the input.
func (s *UTF8Sanitizer) clean(data []byte, atEOF bool) int {
	w := 0
	for i := 0; i < len(data); {
		if data[i] < utf8.RuneSelf {
			data[w] = data[i]
			w++
			i++
			continue
		}

		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			if !atEOF && !utf8.FullRune(data[i:]) {
				// Possibly the head of a rune finished by the next read.
				s.carry = append(s.carry, data[i:]...)
				return w
			}
			data[w] = '?'
			w++
			i++
			continue
		}

		copy(data[w:], data[i:i+size])
		w += size
		i += size
	}
	return w
}
