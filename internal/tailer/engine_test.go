package tailer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldtail/spoold/internal/offsetstore"
	"github.com/coldtail/spoold/internal/record"
)

func newTestEngine(t *testing.T) (*Engine, *offsetstore.Store, *[]record.Record) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))

	store := offsetstore.New(filepath.Join(t.TempDir(), "offsets.json"), log)
	require.NoError(t, store.Load())

	var emitted []record.Record
	eng := &Engine{
		SinkName: "out",
		Store:    store,
		Emit:     func(r record.Record) { emitted = append(emitted, r) },
		Log:      log,
	}
	return eng, store, &emitted
}

func TestDrainEmitsCompleteLinesAndUpdatesOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0644))

	eng, store, emitted := newTestEngine(t)
	entry, err := OpenEntry(path, 0)
	require.NoError(t, err)
	defer entry.Close()

	require.NoError(t, eng.Drain(entry))

	require.Len(t, *emitted, 2)
	assert.Equal(t, "x\n", string((*emitted)[0].Payload))
	assert.Equal(t, "y\n", string((*emitted)[1].Payload))
	assert.Equal(t, int64(4), store.Get(path))
	assert.Equal(t, int64(4), entry.Offset)
}

func TestDrainHoldsBackPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("x\ny"), 0644))

	eng, store, emitted := newTestEngine(t)
	entry, err := OpenEntry(path, 0)
	require.NoError(t, err)
	defer entry.Close()

	require.NoError(t, eng.Drain(entry))
	require.Len(t, *emitted, 1)
	assert.Equal(t, int64(2), store.Get(path)) // "y" not counted yet

	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0644))
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	entry.Handle.Close()
	entry.Handle = f
	// The framer already holds "y", so resume past it, where the old handle was.
	_, seekErr := f.Seek(3, 0)
	require.NoError(t, seekErr)

	require.NoError(t, eng.Drain(entry))
	require.Len(t, *emitted, 2)
	assert.Equal(t, "y\n", string((*emitted)[1].Payload))
	assert.Equal(t, int64(4), store.Get(path))
}

func TestDrainDetectsTruncationAndResets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789\n"), 0644))

	eng, store, emitted := newTestEngine(t)
	entry, err := OpenEntry(path, 0)
	require.NoError(t, err)
	defer entry.Close()

	require.NoError(t, eng.Drain(entry))
	require.Len(t, *emitted, 1)
	assert.Equal(t, int64(11), store.Get(path))

	// truncate to something smaller than the cached offset
	require.NoError(t, os.WriteFile(path, []byte("z\n"), 0644))

	require.NoError(t, eng.Drain(entry))
	require.Len(t, *emitted, 2)
	assert.Equal(t, "z\n", string((*emitted)[1].Payload))
	assert.Equal(t, int64(2), store.Get(path))
}

func TestResumeFromPersistedOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.log")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n3\n"), 0644))

	eng, _, emitted := newTestEngine(t)
	entry, err := OpenEntry(path, 4) // "1\n2\n" already accounted for
	require.NoError(t, err)
	defer entry.Close()

	require.NoError(t, eng.Drain(entry))
	require.Len(t, *emitted, 1)
	assert.Equal(t, "3\n", string((*emitted)[0].Payload))
}
