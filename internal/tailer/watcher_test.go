package tailer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected map[string][]string

func (c collected) add(key, line string) { c[key] = append(c[key], line) }

func TestWatcher_SyncPollDrop(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.example.com.access.log")
	b := filepath.Join(root, "b.example.com.access.log")
	appendLines(t, a, "a0\n")
	appendLines(t, b, "b0\n")

	open, err := OpenerFor("poll", true)
	require.NoError(t, err)

	w := NewWatcher([]string{root, filepath.Join(root, "missing", "*")}, newTestDiscoverer(t), open, nil)
	defer w.Close()

	errs := w.Sync()
	assert.Zero(t, errs.Total())
	require.Len(t, w.Keys(), 2)
	assert.ElementsMatch(t, []string{a, b}, w.Paths())

	appendLines(t, a, "a1\na2\n")
	appendLines(t, b, "b1\n")

	got := collected{}
	errs = w.Poll(got.add)
	assert.Zero(t, errs.Total())
	assert.Equal(t, []string{"a1", "a2"}, got["a.example.com:"+a])
	assert.Equal(t, []string{"b1"}, got["b.example.com:"+b])

	// A second sync leaves unchanged sources alone, read positions included
	appendLines(t, a, "a3\n")
	w.Sync()
	got = collected{}
	w.Poll(got.add)
	assert.Equal(t, []string{"a3"}, got["a.example.com:"+a])

	// Removed files are transient until rediscovery drops them
	require.NoError(t, os.Remove(b))
	errs = w.Poll(func(string, string) {})
	assert.Equal(t, 1, errs.TransientSource)

	w.Sync()
	assert.Equal(t, []string{"a.example.com:" + a}, w.Keys())
	assert.Equal(t, []string{a}, w.Paths())
}

func TestWatcher_NewFilesStartAtEnd(t *testing.T) {
	root := t.TempDir()
	open, err := OpenerFor("poll", true)
	require.NoError(t, err)

	w := NewWatcher([]string{root}, newTestDiscoverer(t), open, nil)
	defer w.Close()

	w.Sync()
	assert.Empty(t, w.Keys())

	c := filepath.Join(root, "c.example.com.access.log")
	appendLines(t, c, "history\n")
	w.Sync()
	require.Len(t, w.Keys(), 1)

	appendLines(t, c, "live\n")
	got := collected{}
	w.Poll(got.add)
	assert.Equal(t, []string{"live"}, got["c.example.com:"+c])
}

func TestWatcher_Close(t *testing.T) {
	root := t.TempDir()
	appendLines(t, filepath.Join(root, "a.example.com.access.log"), "x\n")

	open, err := OpenerFor("poll", false)
	require.NoError(t, err)

	w := NewWatcher([]string{root}, newTestDiscoverer(t), open, nil)
	w.Sync()
	require.Len(t, w.Keys(), 1)

	require.NoError(t, w.Close())
	assert.Empty(t, w.Keys())
	assert.Empty(t, w.Paths())
}

func TestOpenerFor_Unknown(t *testing.T) {
	_, err := OpenerFor("inotify", false)
	assert.Error(t, err)
}
