// Package poolscanner enumerates a spool directory for files matching a
// name pattern and opens them for reading.
package poolscanner

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// Found is one matching file opened for reading, not yet positioned.
type Found struct {
	Path   string
	Handle *os.File
}

// Scan enumerates the direct entries of poolPath, keeps regular files whose
// basename matches pattern, and opens each for reading.
//
// An open failure on any single file aborts the scan: all handles opened so
// far are closed and an empty result is returned. Partial state here would
// desynchronize the offset store from the live file set, so the scan is
// all-or-nothing.
func Scan(poolPath string, pattern *regexp.Regexp) ([]Found, error) {
	entries, err := os.ReadDir(poolPath)
	if err != nil {
		return nil, errors.Wrapf(err, "poolscanner: read dir %s", poolPath)
	}

	found := make([]Found, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue // non-regular entries are silently skipped
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if !pattern.MatchString(entry.Name()) {
			continue
		}

		path := filepath.Join(poolPath, entry.Name())
		handle, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			closeAll(found)
			return nil, errors.Wrapf(err, "poolscanner: open %s", path)
		}
		found = append(found, Found{Path: path, Handle: handle})
	}

	return found, nil
}

func closeAll(found []Found) {
	for _, f := range found {
		f.Handle.Close()
	}
}
