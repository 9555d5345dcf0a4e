//go:build !linux

package watcher

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/coldtail/spoold/internal/poolscanner"
	"github.com/coldtail/spoold/internal/tailer"
)

const pollInterval = 10 * time.Second

// kqueueWatcher is a two-worker backend. kqueue observes file descriptors,
// not directory namespaces, so directory
// discovery (Worker A) and content tailing (Worker B) are split: Worker A
// periodically diffs the pool's directory listing and wakes Worker B with
// SIGUSR1 when it changes; Worker B rebuilds its kqueue filter set from
// scratch in response rather than sharing the live handle set directly.
//
// Grounded on the syncthing-vendored kqueue trigger (plain syscall.Kqueue /
// syscall.Kevent, no notify-library abstraction), promoted here to the
// typed golang.org/x/sys/unix wrappers over the same calls.
type kqueueWatcher struct {
	deps Deps

	shutdown int32
	wg       sync.WaitGroup
}

func newPlatformWatcher(deps Deps) (Watcher, error) {
	return &kqueueWatcher{deps: deps}, nil
}

func (w *kqueueWatcher) Run() error {
	// SIGUSR1 must have a non-default disposition for EVFILT_SIGNAL to be
	// delivered via kqueue instead of the signal's default action; Ignore
	// installs exactly that without Go's signal.Notify channel machinery,
	// which Worker B does not use (it reads the signal through kqueue).
	signal.Ignore(syscall.SIGUSR1)

	errCh := make(chan error, 1)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		pollErr := w.runDirectoryPoller()
		if pollErr != nil {
			w.Stop() // wake Worker B so the failure ends the whole watcher
		}
		errCh <- pollErr
	}()

	tailErr := w.runContentTailer()
	// Worker A observes this on its next tick and exits.
	atomic.StoreInt32(&w.shutdown, 1)

	w.wg.Wait()
	select {
	case pollErr := <-errCh:
		if pollErr != nil {
			return pollErr
		}
	default:
	}
	return tailErr
}

func (w *kqueueWatcher) Stop() {
	atomic.StoreInt32(&w.shutdown, 1)
	syscall.Kill(os.Getpid(), syscall.SIGUSR1)
}

func (w *kqueueWatcher) isShuttingDown() bool {
	return atomic.LoadInt32(&w.shutdown) != 0
}

// runDirectoryPoller is Worker A: every pollInterval, list the pool
// directory and compare it to what was seen last time. Any symmetric
// difference resets those paths' offsets and wakes Worker B. Any failure
// here is fatal to the whole watcher.
//
// seen is primed from a scan taken before the wait loop starts, not from an
// empty map: Worker B already opens every pre-existing matching file at its
// stored offset in openPool, so diffing the first post-startup poll against
// nothing would treat the whole pool as newly created and reset offsets
// Worker B is already tailing correctly.
func (w *kqueueWatcher) runDirectoryPoller() error {
	seen, err := w.listPool()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if w.isShuttingDown() {
			return nil
		}

		<-ticker.C
		if w.isShuttingDown() {
			return nil
		}

		current, err := w.listPool()
		if err != nil {
			return err
		}

		var diff []string
		for path := range current {
			if !seen[path] {
				diff = append(diff, path)
			}
		}
		for path := range seen {
			if !current[path] {
				diff = append(diff, path)
			}
		}

		if len(diff) > 0 {
			if err := w.deps.Store.Reset(diff...); err != nil {
				return err
			}
			seen = current
			syscall.Kill(os.Getpid(), syscall.SIGUSR1)
		}
	}
}

// listPool returns the set of paths currently matching the pool pattern.
// This worker only discovers names; it never tails, so every handle is
// closed immediately after the scan.
func (w *kqueueWatcher) listPool() (map[string]bool, error) {
	found, err := poolscanner.Scan(w.deps.PoolPath, w.deps.Pattern)
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(found))
	for _, f := range found {
		f.Handle.Close()
		current[f.Path] = true
	}
	return current, nil
}

// runContentTailer is Worker B: it rebuilds a kqueue filter set containing
// one read filter per currently open handle plus a signal filter for
// SIGUSR1, and blocks on kevent waiting for up to 3 events per wake.
func (w *kqueueWatcher) runContentTailer() error {
	for {
		if w.isShuttingDown() {
			return nil
		}

		kq, err := unix.Kqueue()
		if err != nil {
			return errors.Wrap(err, "watcher: kqueue")
		}

		live, err := w.openPool()
		if err != nil {
			unix.Close(kq)
			return err
		}

		rebuild, err := w.drainAndWait(kq, live)
		for _, entry := range live {
			entry.Close()
		}
		unix.Close(kq)

		if err != nil {
			return err
		}
		if !rebuild {
			return nil
		}
		// loop: re-scan the pool and rebuild the filter set from scratch
	}
}

// openPool scans the pool and opens every matching file at its stored
// offset, draining whatever is already available before the filter set is
// installed.
func (w *kqueueWatcher) openPool() (map[int]*tailer.FileEntry, error) {
	found, err := poolscanner.Scan(w.deps.PoolPath, w.deps.Pattern)
	if err != nil {
		return nil, err
	}

	live := make(map[int]*tailer.FileEntry)
	for _, f := range found {
		f.Handle.Close()
		offset := w.deps.Store.Get(f.Path)
		entry, err := tailer.OpenEntry(f.Path, offset)
		if err != nil {
			w.deps.Log.WithError(err).WithField("path", f.Path).Warn("watcher: failed to open file")
			continue
		}
		if offset == 0 {
			if err := w.deps.Store.Update(f.Path, 0); err != nil {
				return nil, err
			}
		}
		if err := w.deps.Engine.Drain(entry); err != nil {
			return nil, err
		}
		live[int(entry.Handle.Fd())] = entry
	}
	return live, nil
}

// drainAndWait installs kqueue filters for live's handles and the SIGUSR1
// signal, then services events until a signal wakes it. Returns rebuild=true
// if the wake was a directory-change rebuild request, false if it was a
// shutdown.
func (w *kqueueWatcher) drainAndWait(kq int, live map[int]*tailer.FileEntry) (rebuild bool, err error) {
	changes := make([]unix.Kevent_t, 0, len(live)+1)
	for fd := range live {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
		changes = append(changes, ev)
	}
	var sigEv unix.Kevent_t
	unix.SetKevent(&sigEv, int(syscall.SIGUSR1), unix.EVFILT_SIGNAL, unix.EV_ADD)
	changes = append(changes, sigEv)

	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		return false, errors.Wrap(err, "watcher: register kqueue filters")
	}

	events := make([]unix.Kevent_t, 3)
	fdToEntry := make(map[int]*tailer.FileEntry, len(live))
	for fd, entry := range live {
		fdToEntry[fd] = entry
	}

	for {
		n, err := unix.Kevent(kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, errors.Wrap(err, "watcher: kevent wait")
		}

		for _, ev := range events[:n] {
			if ev.Filter == unix.EVFILT_SIGNAL {
				if w.isShuttingDown() {
					return false, nil
				}
				return true, nil
			}
			if ev.Filter == unix.EVFILT_READ {
				if entry, ok := fdToEntry[int(ev.Ident)]; ok {
					if err := w.deps.Engine.Drain(entry); err != nil {
						return false, err
					}
				}
			}
		}
	}
}
