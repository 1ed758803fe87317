package lockmgr

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	locks := NewLockManager()

	ok, owner, err := locks.AcquireLock(dir)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, owner, ownerIDLength)
	assert.True(t, locks.IsLocked(dir))

	// the lock file names the holder
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	// a second manager shares the registry
	ok, _, err = NewLockManager().AcquireLock(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := locks.ReleaseLock(dir, owner)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, locks.IsLocked(dir))

	// free again
	ok, owner, err = locks.AcquireLock(dir)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = locks.ReleaseLock(dir, owner)
	require.NoError(t, err)
}

func TestReleaseWrongOwner(t *testing.T) {
	dir := t.TempDir()
	locks := NewLockManager()

	ok, owner, err := locks.AcquireLock(dir)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := locks.ReleaseLock(dir, []byte("not the owner"))
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, locks.IsLocked(dir))

	released, err = locks.ReleaseLock(dir, owner)
	require.NoError(t, err)
	assert.True(t, released)

	// releasing a lock that does not exist succeeds
	released, err = locks.ReleaseLock(dir, owner)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestSamePathDifferentSpelling(t *testing.T) {
	dir := t.TempDir()
	locks := NewLockManager()

	ok, owner, err := locks.AcquireLock(dir)
	require.NoError(t, err)
	require.True(t, ok)
	defer locks.ReleaseLock(dir, owner)

	ok, _, err = locks.AcquireLock(filepath.Join(dir, ".", "sub", ".."))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()
	locks := NewLockManager()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		owners  sync.Map
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, owner, err := locks.AcquireLock(dir)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
				owners.Store("winner", owner)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load())
	owner, _ := owners.Load("winner")
	_, err := locks.ReleaseLock(dir, owner.([]byte))
	require.NoError(t, err)
}

func TestMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	locks := NewLockManager()

	ok, _, err := locks.AcquireLock(dir)
	require.Error(t, err)
	assert.False(t, ok)
	assert.False(t, locks.IsLocked(dir), "a failed acquisition must not stay registered")
}
