// Package offsetstore persists the per-file read-position map that lets the
// tailing engine resume exactly where it left off after a restart.
//
// Modeled on the registry in DataDog's log-agent auditor: a small in-memory
// map, guarded by a single mutex, rewritten to disk in full on every update
// rather than appended-to. Unlike that auditor, this store has no TTL-based
// eviction: a file's entry lives until it is explicitly reset by its
// caller, never by a timer.
package offsetstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store is a durable filename -> byte-offset map. All operations are
// serialized by a single mutex so concurrent callers see a consistent view.
type Store struct {
	mu     sync.Mutex
	path   string
	log    logrus.FieldLogger
	values map[string]int64
}

// New creates a Store backed by path. Call Load before using it.
func New(path string, log logrus.FieldLogger) *Store {
	return &Store{
		path:   path,
		log:    log,
		values: make(map[string]int64),
	}
}

// Load opens the offset file, creating it empty if absent, and deserializes
// its contents into the in-memory map.
//
// An absent file is created empty. An empty or truncated file is tolerated:
// the map starts empty and a warning is logged. Any other read or decode
// error is fatal, since a corrupted non-empty offset file cannot be trusted
// to avoid re-shipping or skipping lines.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if createErr := os.WriteFile(s.path, nil, 0644); createErr != nil {
			return errors.Wrapf(createErr, "offsetstore: create %s", s.path)
		}
		s.values = make(map[string]int64)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "offsetstore: read %s", s.path)
	}

	if len(data) == 0 {
		s.log.WithField("path", s.path).Warn("offset store is empty, starting with no known offsets")
		s.values = make(map[string]int64)
		return nil
	}

	values := make(map[string]int64)
	if err := json.Unmarshal(data, &values); err != nil {
		// A syntax error at the very end of the input means the file was cut
		// short (e.g. a crash mid-rewrite), not corrupted.
		if syntaxErr, ok := err.(*json.SyntaxError); ok && syntaxErr.Offset == int64(len(data)) {
			s.log.WithField("path", s.path).Warn("offset store is truncated, starting with no known offsets")
			s.values = make(map[string]int64)
			return nil
		}
		return errors.Wrapf(err, "offsetstore: corrupt offset file %s", s.path)
	}
	s.values = values
	return nil
}

// Get returns the stored offset for filename, or 0 if absent.
func (s *Store) Get(filename string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[filename]
}

// Update overwrites filename's offset and re-serializes the entire map to
// the backing file, overwriting from position 0.
func (s *Store) Update(filename string, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[filename] = offset
	return s.flushLocked()
}

// Reset sets each of filenames' offsets to 0 and re-serializes the map.
// Used when a file appears or disappears so a subsequent open starts fresh.
func (s *Store) Reset(filenames ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range filenames {
		s.values[f] = 0
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return errors.Wrap(err, "offsetstore: marshal")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrapf(err, "offsetstore: write %s", s.path)
	}
	return nil
}
