package sink

import (
	"bufio"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/coldtail/spoold/internal/record"
)

// Stdout formats each record as "filename: payload" and writes it to the
// given writer, flushing after every write. Used for debugging. It is built
// only for a [COLLECTOR:<name>] section with TYPE=stdout; no configuration
// falls back to it by default.
type Stdout struct {
	mu  sync.Mutex
	out *bufio.Writer
	log logrus.FieldLogger
}

// NewStdout creates a Stdout sink writing to w (typically os.Stdout).
func NewStdout(w io.Writer, log logrus.FieldLogger) *Stdout {
	return &Stdout{out: bufio.NewWriter(w), log: log}
}

// Process writes r and flushes.
func (s *Stdout) Process(r record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.out.Write(r.Formatted()); err != nil {
		s.log.WithError(err).WithField("file", r.Filename).Error("stdout sink write failed")
		return
	}
	if err := s.out.Flush(); err != nil {
		s.log.WithError(err).WithField("file", r.Filename).Error("stdout sink flush failed")
	}
}
