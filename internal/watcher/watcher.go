// Package watcher drives one of two OS-specific lifecycle-event backends
// (Linux inotify, or kqueue on everything else) over a spool directory and
// feeds live file handles and read events to a tailer.Engine.
//
// The two backends share no code beyond the offset store, the pool scanner
// and the tailer's Engine and line framer: each is an independent
// implementor of the Watcher interface,
// selected at construction time by the file the Go build picked for this
// platform (watcher_linux.go vs watcher_kqueue.go).
package watcher

import (
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/offsetstore"
	"github.com/coldtail/spoold/internal/tailer"
)

// Watcher drives one backend's event loop.
type Watcher interface {
	// Run blocks until Stop is called or a fatal error occurs.
	Run() error
	// Stop requests a graceful shutdown; Run returns once the loop has
	// drained its current event and observed the request.
	Stop()
}

// Deps are the collaborators every backend needs: where to look, which
// files to pick up, where to persist offsets, and how to turn bytes into
// emitted records.
type Deps struct {
	PoolPath string
	Pattern  *regexp.Regexp
	Store    *offsetstore.Store
	Engine   *tailer.Engine
	Log      logrus.FieldLogger
}

// New constructs the Watcher appropriate for the host OS: inotify on Linux,
// kqueue everywhere else this binary is built for.
func New(deps Deps) (Watcher, error) {
	return newPlatformWatcher(deps)
}
