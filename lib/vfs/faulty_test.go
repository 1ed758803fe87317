package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultyFSTornWrite(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultyFS(nil)
	name := filepath.Join(dir, "data.log")

	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	fs.AddRule("data.log", Fault{FailAfterBytes: 5})
	n, err := f.Write([]byte("0123456789"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 5, n)

	st, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Size())

	fs.ClearRules()
	_, err = f.Write([]byte("abc"))
	assert.NoError(t, err)
}

func TestFaultyFSSyncAndCrash(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultyFS(nil)
	name := filepath.Join(dir, "data.log")

	f, err := fs.OpenFile(name, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, _ = f.Write([]byte("durable"))
	require.NoError(t, f.Sync())
	_, _ = f.Write([]byte("-lost"))

	fs.AddRule("data.log", Fault{FailAfterBytes: -1, FailOnSync: true})
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	_ = f.Close()

	require.NoError(t, fs.Crash())
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(data))
}

func TestFaultyFSRenameKeepsSyncState(t *testing.T) {
	dir := t.TempDir()
	fs := NewFaultyFS(nil)
	tmp, final := filepath.Join(dir, "a.tmp"), filepath.Join(dir, "a")

	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, _ = f.Write([]byte("snapshot"))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	require.NoError(t, fs.Rename(tmp, final))
	require.NoError(t, fs.SyncDir(dir))

	require.NoError(t, fs.Crash())
	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))
}
