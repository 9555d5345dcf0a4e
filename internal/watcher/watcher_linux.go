//go:build linux

package watcher

import (
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/coldtail/spoold/internal/poolscanner"
	"github.com/coldtail/spoold/internal/tailer"
)

// inotifyEventSize is the fixed size of the inotify_event header, excluding
// the variable-length name field that follows it.
const inotifyEventSize = unix.SizeofInotifyEvent

const inotifyEventBufSize = 64 * (unix.SizeofInotifyEvent + unix.PathMax)

const watchMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MODIFY | unix.IN_DELETE | unix.IN_MOVED_FROM

// linuxWatcher is a single-threaded, inotify-driven backend. It shares no
// mutable state with any other goroutine; shutdown is requested through a
// self-pipe so the blocking poll(2) in run() wakes immediately instead of
// waiting for the next inotify event.
type linuxWatcher struct {
	deps Deps

	inotifyFd int
	pipeR     int
	pipeW     int

	live     map[string]*tailer.FileEntry
	stopOnce sync.Once
}

func newPlatformWatcher(deps Deps) (Watcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "watcher: inotify_init1")
	}

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "watcher: pipe2")
	}

	if _, err := unix.InotifyAddWatch(fd, deps.PoolPath, watchMask); err != nil {
		unix.Close(fd)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, errors.Wrapf(err, "watcher: inotify_add_watch %s", deps.PoolPath)
	}

	return &linuxWatcher{
		deps:      deps,
		inotifyFd: fd,
		pipeR:     fds[0],
		pipeW:     fds[1],
		live:      make(map[string]*tailer.FileEntry),
	}, nil
}

// Run performs the initial scan (seeking each matching file to its stored
// offset and draining already-available bytes), then loops on inotify
// events until Stop is called.
func (w *linuxWatcher) Run() error {
	defer w.closeAll()

	found, err := poolscanner.Scan(w.deps.PoolPath, w.deps.Pattern)
	if err != nil {
		return err
	}
	for _, f := range found {
		f.Handle.Close() // reopened through OpenEntry so offsets line up uniformly
		if err := w.adopt(f.Path); err != nil {
			return err
		}
	}

	pollFds := []unix.PollFd{
		{Fd: int32(w.inotifyFd), Events: unix.POLLIN},
		{Fd: int32(w.pipeR), Events: unix.POLLIN},
	}
	buf := make([]byte, inotifyEventBufSize)

	for {
		_, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue // interrupted system call: retry transparently
			}
			return errors.Wrap(err, "watcher: poll")
		}

		if pollFds[1].Revents&unix.POLLIN != 0 {
			return nil // shutdown requested
		}
		if pollFds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(w.inotifyFd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "watcher: read inotify events")
		}

		if err := w.handleEvents(buf[:n]); err != nil {
			return err
		}
	}
}

// Stop wakes the blocking poll(2) via the self-pipe. Idempotent.
func (w *linuxWatcher) Stop() {
	w.stopOnce.Do(func() {
		unix.Write(w.pipeW, []byte{0})
	})
}

func (w *linuxWatcher) handleEvents(buf []byte) error {
	for offset := 0; offset+inotifyEventSize <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameStart := offset + inotifyEventSize
		nameEnd := nameStart + int(raw.Len)
		if nameEnd > len(buf) {
			break
		}
		name := cString(buf[nameStart:nameEnd])
		offset = nameEnd

		if name == "" {
			continue // event about the watched directory itself
		}

		mask := raw.Mask
		switch {
		case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			if err := w.onCreate(name); err != nil {
				return err
			}
		case mask&unix.IN_MODIFY != 0:
			if err := w.onModify(name); err != nil {
				return err
			}
		case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
			if err := w.onRemove(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *linuxWatcher) onCreate(name string) error {
	if !w.deps.Pattern.MatchString(name) {
		return nil
	}
	path := joinPool(w.deps.PoolPath, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil // vanished or not a regular file, ignore
	}
	return w.adopt(path)
}

func (w *linuxWatcher) onModify(name string) error {
	path := joinPool(w.deps.PoolPath, name)
	entry, ok := w.live[path]
	if !ok {
		return nil // no live entry: ignore
	}
	return w.deps.Engine.Drain(entry)
}

func (w *linuxWatcher) onRemove(name string) error {
	path := joinPool(w.deps.PoolPath, name)
	entry, ok := w.live[path]
	if !ok {
		return nil
	}
	entry.Close()
	delete(w.live, path)
	return w.deps.Store.Reset(path)
}

// adopt opens path at its stored offset (0 if never seen), registers it in
// the live set, and drains whatever is already available.
func (w *linuxWatcher) adopt(path string) error {
	offset := w.deps.Store.Get(path)
	entry, err := tailer.OpenEntry(path, offset)
	if err != nil {
		w.deps.Log.WithError(err).WithField("path", path).Warn("watcher: failed to open new file")
		return nil
	}
	w.live[path] = entry

	if offset == 0 {
		if err := w.deps.Store.Update(path, 0); err != nil {
			return err
		}
	}
	return w.deps.Engine.Drain(entry)
}

func (w *linuxWatcher) closeAll() {
	for _, entry := range w.live {
		entry.Close()
	}
	unix.Close(w.inotifyFd)
	unix.Close(w.pipeR)
	unix.Close(w.pipeW)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func joinPool(pool, name string) string {
	if len(pool) > 0 && pool[len(pool)-1] == '/' {
		return pool + name
	}
	return pool + "/" + name
}
