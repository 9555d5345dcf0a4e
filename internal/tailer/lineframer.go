// Package tailer implements the line-framing reader shared by both watcher
// backends, plus the glue that turns a raw byte read into emitted records.
package tailer

import (
	"bytes"
	"io"
)

const growSize = 4096

// LineFramer accumulates bytes read from a single file handle and splits
// them into complete lines, each including its trailing newline. A trailing
// partial line (no newline yet) is held back until a later Read supplies the
// rest of it; it is never emitted and never advances the caller-visible
// cursor.
//
// Each emitted line keeps its terminating newline rather than having it
// stripped, so a record's payload is exactly the bytes that were on disk.
type LineFramer struct {
	buf    []byte
	filled int
}

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{buf: make([]byte, growSize)}
}

// Reset discards any buffered bytes. Engine.Drain calls it after an in-place
// truncation so stale buffered bytes are never attributed to the rewritten
// file; a deleted or moved file's entry is closed instead, and a reopened
// file gets a new framer.
func (f *LineFramer) Reset() {
	f.filled = 0
}

// ReadLines reads whatever is currently available from r and returns the
// complete lines found, most recent call last. bytesConsumed reports how
// many bytes of the source file these lines account for; it excludes any
// trailing partial line still held in the internal buffer. read reports how
// many bytes the underlying Read actually returned this call — it can be
// nonzero with lines still empty (a long line with no newline in it yet),
// which the caller must tell apart from a true zero-byte read (nothing left
// to read right now).
func (f *LineFramer) ReadLines(r io.Reader) (lines [][]byte, bytesConsumed int64, read int, err error) {
	n, readErr := r.Read(f.buf[f.filled:])
	if readErr != nil && n == 0 {
		if readErr == io.EOF {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, readErr
	}

	end := f.filled + n
	start := 0
	for {
		idx := bytes.IndexByte(f.buf[start:end], '\n')
		if idx == -1 {
			break
		}
		lineEnd := start + idx + 1
		line := make([]byte, lineEnd-start)
		copy(line, f.buf[start:lineEnd])
		lines = append(lines, line)
		bytesConsumed += int64(len(line))
		start = lineEnd
	}

	remaining := end - start
	if remaining > 0 {
		copy(f.buf, f.buf[start:end])
	}
	f.filled = remaining

	if f.filled == len(f.buf) {
		grown := make([]byte, len(f.buf)+growSize)
		copy(grown, f.buf)
		f.buf = grown
	}

	return lines, bytesConsumed, n, nil
}
