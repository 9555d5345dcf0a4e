//go:build linux

package watcher

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldtail/spoold/internal/offsetstore"
	"github.com/coldtail/spoold/internal/record"
	"github.com/coldtail/spoold/internal/tailer"
)

type recorder struct {
	mu   sync.Mutex
	recs []record.Record
}

func (r *recorder) emit(rec record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recorder) snapshot() []record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]record.Record, len(r.recs))
	copy(out, r.recs)
	return out
}

func setupLinuxWatcher(t *testing.T, dir string) (*recorder, *offsetstore.Store, Watcher) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))

	store := offsetstore.New(filepath.Join(t.TempDir(), "offsets.json"), log)
	require.NoError(t, store.Load())

	rec := &recorder{}
	eng := &tailer.Engine{SinkName: "out", Store: store, Emit: rec.emit, Log: log}

	w, err := New(Deps{
		PoolPath: dir,
		Pattern:  regexp.MustCompile(`\.log$`),
		Store:    store,
		Engine:   eng,
		Log:      log,
	})
	require.NoError(t, err)
	return rec, store, w
}

func TestLinuxWatcherFreshStartSingleFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("x\ny\n"), 0644))

	rec, store, w := setupLinuxWatcher(t, dir)
	go w.Run()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	recs := rec.snapshot()
	assert.Equal(t, "x\n", string(recs[0].Payload))
	assert.Equal(t, "y\n", string(recs[1].Payload))
	assert.Equal(t, int64(4), store.Get(filepath.Join(dir, "a.log")))
}

func TestLinuxWatcherAppendAcrossEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0644))

	rec, store, w := setupLinuxWatcher(t, dir)
	go w.Run()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("z")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 2, "no newline yet: nothing new emitted")
	assert.Equal(t, int64(4), store.Get(path))

	f, err = os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "z\n", string(rec.snapshot()[2].Payload))
	assert.Equal(t, int64(6), store.Get(path))
}

func TestLinuxWatcherCreateAfterStart(t *testing.T) {
	dir := t.TempDir()

	rec, store, w := setupLinuxWatcher(t, dir)
	go w.Run()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond) // let the watch install before creating

	path := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello\n", string(rec.snapshot()[0].Payload))
	assert.Equal(t, int64(6), store.Get(path))
}

func TestLinuxWatcherDeleteResetsOffset(t *testing.T) {
	dir := t.TempDir()
	rec, store, w := setupLinuxWatcher(t, dir)
	go w.Run()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return store.Get(path) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "delete emits no records")
}

func TestLinuxWatcherIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	rec, store, w := setupLinuxWatcher(t, dir)
	go w.Run()
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "ignore.txt")
	require.NoError(t, os.WriteFile(path, []byte("nope\n"), 0644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.Equal(t, int64(0), store.Get(path))
}
