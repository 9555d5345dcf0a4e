package tailer

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/offsetstore"
	"github.com/coldtail/spoold/internal/record"
)

// FileEntry is a live tailed file: an open read-only handle positioned at
// the last-emitted byte offset, plus the framer holding any not-yet-emitted
// partial line. Owned exclusively by whichever watcher backend created it.
type FileEntry struct {
	Path   string
	Handle *os.File
	Offset int64
	Framer *LineFramer
}

// OpenEntry opens path, seeks to startOffset and returns a FileEntry ready
// to be drained. startOffset normally comes from the offset store (0 if the
// file has never been seen).
func OpenEntry(path string, startOffset int64) (*FileEntry, error) {
	handle, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "tailer: open %s", path)
	}
	if _, err := handle.Seek(startOffset, io.SeekStart); err != nil {
		handle.Close()
		return nil, errors.Wrapf(err, "tailer: seek %s", path)
	}
	return &FileEntry{
		Path:   path,
		Handle: handle,
		Offset: startOffset,
		Framer: NewLineFramer(),
	}, nil
}

// Close releases the entry's handle. Safe to call once.
func (e *FileEntry) Close() {
	if e.Handle != nil {
		e.Handle.Close()
		e.Handle = nil
	}
}

// Engine drives the shared read-frame-emit-persist sequence used by both
// watcher backends. It has no knowledge of inotify or kqueue; it only knows
// how to turn "this file has new bytes" into records and an offset update.
type Engine struct {
	SinkName string
	Store    *offsetstore.Store
	Emit     func(record.Record)
	Log      logrus.FieldLogger
}

// Drain reads all currently available bytes from entry, in file order,
// emitting one record per complete line. A trailing partial line is left
// unread in the entry's framer. The offset store is updated at most once,
// after the whole batch, not per line.
//
// Before reading, Drain checks for in-place truncation (file size smaller
// than the entry's cached offset) and treats it as a lifecycle reset: the
// handle is reseeked to 0, the framer is cleared and the stored offset is
// reset before any bytes are read.
func (eng *Engine) Drain(entry *FileEntry) error {
	if truncated, size := eng.isTruncated(entry); truncated {
		eng.Log.WithField("path", entry.Path).WithField("size", size).
			WithField("offset", entry.Offset).
			Warn("file truncated in place, resetting offset")
		if _, err := entry.Handle.Seek(0, io.SeekStart); err != nil {
			return errors.Wrapf(err, "tailer: reseek after truncation %s", entry.Path)
		}
		entry.Framer.Reset()
		entry.Offset = 0
		if err := eng.Store.Reset(entry.Path); err != nil {
			return err
		}
	}

	var totalConsumed int64
	for {
		lines, consumed, read, err := entry.Framer.ReadLines(entry.Handle)
		if err != nil {
			return errors.Wrapf(err, "tailer: read %s", entry.Path)
		}
		totalConsumed += consumed
		entry.Offset += consumed

		for _, line := range lines {
			eng.Emit(record.Record{
				SinkName: eng.SinkName,
				Filename: entry.Path,
				Payload:  line,
			})
		}

		if read == 0 {
			break // Read returned nothing: genuinely no more data right now
		}
		// read > 0 with no complete lines means a long line with no
		// newline yet sitting past the grown buffer; keep reading instead
		// of stopping, since more of it may already be unread on disk.
	}

	if totalConsumed > 0 {
		if err := eng.Store.Update(entry.Path, entry.Offset); err != nil {
			return err
		}
	}
	return nil
}

func (eng *Engine) isTruncated(entry *FileEntry) (bool, int64) {
	info, err := entry.Handle.Stat()
	if err != nil {
		return false, 0
	}
	return info.Size() < entry.Offset, info.Size()
}
