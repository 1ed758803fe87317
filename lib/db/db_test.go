package db

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ValentinKolb/mapdb/lib/codec"
	"github.com/ValentinKolb/mapdb/lib/dberr"
	"github.com/ValentinKolb/mapdb/lib/events"
	"github.com/ValentinKolb/mapdb/lib/persistence"
	"github.com/ValentinKolb/mapdb/lib/vfs"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func testOptions(configure func(*Options)) *Options {
	opts := DefaultOptions()
	opts.NumShards = 8
	opts.CompactionMinGap = 0
	if configure != nil {
		configure(opts)
	}
	return opts
}

func openDB(t *testing.T, dir string, configure func(*Options)) *DB {
	t.Helper()
	database, err := Open(dir, testOptions(configure))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func openStrings(t *testing.T, database *DB, name string) *TypedMap[string, string] {
	t.Helper()
	m, err := OpenMap[string, string](database, name)
	require.NoError(t, err)
	return m
}

func collect[K comparable, V any](t *testing.T, m *TypedMap[K, V]) map[K]V {
	t.Helper()
	it := m.Iter(context.Background())
	out := maps.Collect(it.All())
	require.NoError(t, it.Err())
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestInsertRemoveIter(t *testing.T) {
	ctx := context.Background()
	m := openStrings(t, openDB(t, t.TempDir(), nil), "m")

	_, existed, err := m.Insert(ctx, "a", "1")
	require.NoError(t, err)
	assert.False(t, existed)
	_, _, err = m.Insert(ctx, "b", "2")
	require.NoError(t, err)

	prev, existed, err := m.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "1", prev)

	assert.Equal(t, map[string]string{"b": "2"}, collect(t, m))
	assert.Equal(t, 1, m.Len())

	var values []string
	for v := range m.Iter(ctx).Values() {
		values = append(values, v)
	}
	assert.Equal(t, []string{"2"}, values)
}

func TestInsertReturnsPrevious(t *testing.T) {
	ctx := context.Background()
	m := openStrings(t, openDB(t, t.TempDir(), nil), "m")

	_, _, err := m.Insert(ctx, "k", "old")
	require.NoError(t, err)
	prev, existed, err := m.Insert(ctx, "k", "new")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "old", prev)

	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", v)

	_, existed, err = m.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestReopenRecoversEverything(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	database, err := Open(dir, testOptions(nil))
	require.NoError(t, err)
	m := openStrings(t, database, "m")
	for i := 0; i < 100; i++ {
		_, _, err := m.Insert(ctx, fmt.Sprint(i), fmt.Sprint(i*i))
		require.NoError(t, err)
	}
	for i := 0; i < 100; i += 2 {
		_, _, err := m.Remove(ctx, fmt.Sprint(i))
		require.NoError(t, err)
	}
	want := collect(t, m)
	require.NoError(t, database.Close())

	re := openStrings(t, openDB(t, dir, nil), "m")
	assert.Equal(t, want, collect(t, re))
	assert.Equal(t, 50, re.Len())
}

func TestCrashBeforeFlushLosesOnlyUnackedRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := vfs.NewFaultyFS(nil)

	database, err := Open(dir, testOptions(func(o *Options) { o.FileSystem = fs }))
	require.NoError(t, err)
	m := openStrings(t, database, "m")
	for i := 0; i < 1000; i++ {
		_, _, err := m.Insert(ctx, fmt.Sprintf("key-%04d", i), "value")
		require.NoError(t, err)
	}

	// the 1001st record reaches the file but never its fsync
	fs.AddRule("wal-", vfs.Fault{FailAfterBytes: -1, FailOnSync: true})
	_, _, err = m.Insert(ctx, "key-1000", "value")
	require.ErrorIs(t, err, dberr.ErrPersistence)
	_, ok, err := m.Get(ctx, "key-1000")
	require.NoError(t, err)
	assert.False(t, ok)

	_ = database.Close()
	fs.ClearRules()
	require.NoError(t, fs.Crash())

	re := openStrings(t, openDB(t, dir, nil), "m")
	assert.Equal(t, 1000, re.Len())
	ok, err = re.Contains(ctx, "key-1000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedSyncNotRecoveredAfterCleanClose(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := vfs.NewFaultyFS(nil)

	database, err := Open(dir, testOptions(func(o *Options) { o.FileSystem = fs }))
	require.NoError(t, err)
	m := openStrings(t, database, "m")
	_, _, err = m.Insert(ctx, "acked", "1")
	require.NoError(t, err)

	fs.AddRule("wal-", vfs.Fault{FailAfterBytes: -1, FailOnSync: true})
	_, _, err = m.Insert(ctx, "failed", "2")
	require.ErrorIs(t, err, dberr.ErrPersistence)

	// no crash, whatever reached the page cache stays readable
	_ = database.Close()
	fs.ClearRules()

	re := openStrings(t, openDB(t, dir, nil), "m")
	assert.Equal(t, map[string]string{"acked": "1"}, collect(t, re))
}

func TestTypeMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database := openDB(t, dir, nil)

	first := openStrings(t, database, "m")
	_, err := OpenMap[string, int64](database, "m")
	require.ErrorIs(t, err, dberr.ErrTypeMismatch)

	// the first handle stays usable
	_, _, err = first.Insert(ctx, "a", "1")
	require.NoError(t, err)

	// the tags survive a reopen
	require.NoError(t, database.Close())
	re := openDB(t, dir, nil)
	_, err = OpenMap[int64, string](re, "m")
	require.ErrorIs(t, err, dberr.ErrTypeMismatch)
	_, err = OpenMap[string, string](re, "m", WithValueCodec(codec.JSON[string]()))
	require.ErrorIs(t, err, dberr.ErrTypeMismatch)
}

func TestCodecOptionMustMatchType(t *testing.T) {
	database := openDB(t, t.TempDir(), nil)
	_, err := OpenMap[string, string](database, "m", WithKeyCodec(codec.Binary[int64]()))
	require.ErrorIs(t, err, dberr.ErrTypeMismatch)
}

type user struct {
	Name  string
	Email string
	Age   int
}

func TestStructValues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, tc := range []struct {
		name  string
		codec codec.Codec[user]
	}{
		{"gob", codec.Gob[user]()},
		{"json", codec.JSON[user]()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			database, err := Open(dir, testOptions(nil))
			require.NoError(t, err)
			m, err := OpenMap[uint64, user](database, "users-"+tc.name, WithValueCodec(tc.codec))
			require.NoError(t, err)

			alice := user{Name: "Alice", Email: "alice@example.com", Age: 31}
			_, _, err = m.Insert(ctx, 1, alice)
			require.NoError(t, err)
			require.NoError(t, database.Close())

			re := openDB(t, dir, nil)
			rm, err := OpenMap[uint64, user](re, "users-"+tc.name, WithValueCodec(tc.codec))
			require.NoError(t, err)
			got, ok, err := rm.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, alice, got)
			require.NoError(t, re.Close())
		})
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := Open(dir, testOptions(nil))
	require.NoError(t, err)

	m := openStrings(t, database, "m")
	other := openStrings(t, database, "other")
	for i := 0; i < 10; i++ {
		_, _, err := m.Insert(ctx, fmt.Sprint(i), "v")
		require.NoError(t, err)
	}
	_, _, err = other.Insert(ctx, "x", "y")
	require.NoError(t, err)

	n, err := m.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.True(t, m.IsEmpty())

	_, _, err = m.Insert(ctx, "after", "clear")
	require.NoError(t, err)
	require.NoError(t, database.Close())

	re := openDB(t, dir, nil)
	assert.Equal(t, map[string]string{"after": "clear"}, collect(t, openStrings(t, re, "m")))
	assert.Equal(t, map[string]string{"x": "y"}, collect(t, openStrings(t, re, "other")))
}

func TestBatches(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := Open(dir, testOptions(nil))
	require.NoError(t, err)
	m, err := OpenMap[int, string](database, "m")
	require.NoError(t, err)

	pairs := make([]Pair[int, string], 50)
	for i := range pairs {
		pairs[i] = Pair[int, string]{Key: i, Value: fmt.Sprint(i)}
	}
	prevs, err := m.InsertBatch(ctx, pairs)
	require.NoError(t, err)
	require.Len(t, prevs, 50)
	for _, p := range prevs {
		assert.False(t, p.Existed)
	}
	assert.Equal(t, 50, m.Len())

	prevs, err = m.InsertBatch(ctx, []Pair[int, string]{{Key: 3, Value: "three"}, {Key: 500, Value: "new"}, {Key: 3, Value: "3"}})
	require.NoError(t, err)
	assert.Equal(t, []Previous[string]{{Value: "3", Existed: true}, {}, {Value: "three", Existed: true}}, prevs)
	_, _, err = m.Remove(ctx, 500)
	require.NoError(t, err)

	removed, err := m.RemoveBatch(ctx, []int{0, 1, 2, 999, 1})
	require.NoError(t, err)
	assert.Equal(t, []Pair[int, string]{{Key: 0, Value: "0"}, {Key: 1, Value: "1"}, {Key: 2, Value: "2"}}, removed)
	assert.Equal(t, 47, m.Len())

	prevs, err = m.InsertBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, prevs)
	removed, err = m.RemoveBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
	require.NoError(t, database.Close())

	re := openDB(t, dir, nil)
	rm, err := OpenMap[int, string](re, "m")
	require.NoError(t, err)
	got := collect(t, rm)
	assert.Len(t, got, 47)
	assert.Equal(t, "49", got[49])
	assert.NotContains(t, got, 0)
}

func TestAsyncWrites(t *testing.T) {
	ctx := context.Background()
	m := openStrings(t, openDB(t, t.TempDir(), nil), "m")

	futures := make([]*Future[Previous[string]], 100)
	for i := range futures {
		futures[i] = m.InsertAsync(ctx, "same", fmt.Sprint(i))
	}

	// writes of one caller apply in submission order
	for i, f := range futures {
		p, err := f.Wait(ctx)
		require.NoError(t, err)
		if i == 0 {
			assert.False(t, p.Existed)
		} else {
			assert.True(t, p.Existed)
			assert.Equal(t, fmt.Sprint(i-1), p.Value)
		}
		<-f.Done()
	}

	v, _, err := m.Get(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "99", v)

	p, err := m.RemoveAsync(ctx, "same").Wait(ctx)
	require.NoError(t, err)
	assert.True(t, p.Existed)
	assert.Equal(t, "99", p.Value)
}

func TestRemoveAsyncOrderedAfterQueuedInsert(t *testing.T) {
	ctx := context.Background()
	m := openStrings(t, openDB(t, t.TempDir(), nil), "m")

	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%d", i)
		fi := m.InsertAsync(ctx, k, "v")
		fr := m.RemoveAsync(ctx, k)

		_, err := fi.Wait(ctx)
		require.NoError(t, err)
		p, err := fr.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, p.Existed, k)
		assert.Equal(t, "v", p.Value)

		_, ok, err := m.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
	assert.Equal(t, 0, m.Len())
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := Open(dir, testOptions(func(o *Options) {
		o.CompactionMinLogBytes = 16 << 10
		o.CompactionLogMultiple = 1
	}))
	require.NoError(t, err)
	m, err := OpenMap[string, int](database, "m")
	require.NoError(t, err)

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, _, err := m.Insert(ctx, fmt.Sprintf("%d-%d", w, i), i); err != nil {
					t.Errorf("insert: %v", err)
					return
				}
				if i%50 == 0 {
					if _, err := database.Compact(ctx); err != nil {
						t.Errorf("compact: %v", err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, writers*perWriter, m.Len())
	want := collect(t, m)
	require.NoError(t, database.Close())

	re := openDB(t, dir, nil)
	rm, err := OpenMap[string, int](re, "m")
	require.NoError(t, err)
	assert.Equal(t, want, collect(t, rm))
}

func TestCompactionKeepsContent(t *testing.T) {
	ctx := context.Background()

	for _, c := range []persistence.Compression{persistence.CompressionNone, persistence.CompressionZstd, persistence.CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			rec := &events.Recorder{}
			database, err := Open(dir, testOptions(func(o *Options) {
				o.SnapshotCompression = c
				o.EventSink = rec
			}))
			require.NoError(t, err)

			m := openStrings(t, database, "m")
			for i := 0; i < 200; i++ {
				_, _, err := m.Insert(ctx, fmt.Sprint(i), "v")
				require.NoError(t, err)
			}
			for i := 0; i < 100; i++ {
				_, _, err := m.Remove(ctx, fmt.Sprint(i))
				require.NoError(t, err)
			}
			want := collect(t, m)

			res, err := database.Compact(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Snapshots)
			assert.Len(t, rec.OfType(events.TypeSnapshotWritten), 1)
			assert.Zero(t, database.Info().Index.Tombstones)

			// writes after the compaction end up in the new segment
			_, _, err = m.Insert(ctx, "late", "v")
			require.NoError(t, err)
			want["late"] = "v"
			require.NoError(t, database.Close())

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var snaps int
			for _, e := range entries {
				if filepath.Ext(e.Name()) == ".snap" {
					snaps++
				}
			}
			assert.Equal(t, 1, snaps)

			re := openDB(t, dir, func(o *Options) { o.SnapshotCompression = c })
			assert.Equal(t, want, collect(t, openStrings(t, re, "m")))
		})
	}
}

func TestTombstonesStayRemovedAfterRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := Open(dir, testOptions(nil))
	require.NoError(t, err)

	m := openStrings(t, database, "m")
	_, _, err = m.Insert(ctx, "gone", "1")
	require.NoError(t, err)
	_, err = database.Compact(ctx)
	require.NoError(t, err)

	// removed after the snapshot, only the log knows
	_, _, err = m.Remove(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, database.Close())

	re := openDB(t, dir, nil)
	ok, err := openStrings(t, re, "m").Contains(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryLimit(t *testing.T) {
	ctx := context.Background()
	database := openDB(t, t.TempDir(), func(o *Options) { o.MemoryLimit = 4 << 10 })
	m := openStrings(t, database, "m")

	var err error
	for i := 0; i < 10_000 && err == nil; i++ {
		_, _, err = m.Insert(ctx, fmt.Sprint(i), "some value that takes space")
	}
	require.ErrorIs(t, err, dberr.ErrOutOfMemory)

	assert.Positive(t, m.Len())
	assert.LessOrEqual(t, database.Info().Index.MemoryBytes, int64(4<<10))

	// clearing plus compaction frees the budget again
	_, err = m.Clear(ctx)
	require.NoError(t, err)
	_, err = database.Compact(ctx)
	require.NoError(t, err)
	_, _, err = m.Insert(ctx, "0", "some value that takes space")
	require.NoError(t, err)
}

func TestOpenOptions(t *testing.T) {
	t.Run("CreateIfMissing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		_, err := Open(dir, testOptions(func(o *Options) { o.CreateIfMissing = false }))
		require.ErrorIs(t, err, dberr.ErrStorageOpen)

		database := openDB(t, dir, nil)
		assert.Equal(t, dir, database.Path())
	})

	t.Run("ErrorIfExists", func(t *testing.T) {
		dir := t.TempDir()
		database, err := Open(dir, testOptions(func(o *Options) { o.ErrorIfExists = true }))
		require.NoError(t, err)
		openStrings(t, database, "m")
		require.NoError(t, database.Close())

		_, err = Open(dir, testOptions(func(o *Options) { o.ErrorIfExists = true }))
		require.ErrorIs(t, err, dberr.ErrStorageOpen)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := Open(file, nil)
		require.ErrorIs(t, err, dberr.ErrStorageOpen)
	})

	t.Run("Locked", func(t *testing.T) {
		dir := t.TempDir()
		openDB(t, dir, nil)
		_, err := Open(dir, testOptions(nil))
		require.ErrorIs(t, err, dberr.ErrStorageOpen)
	})

	t.Run("LockReleasedOnClose", func(t *testing.T) {
		dir := t.TempDir()
		database, err := Open(dir, testOptions(nil))
		require.NoError(t, err)
		require.NoError(t, database.Close())
		openDB(t, dir, nil)
	})

	t.Run("CorruptSnapshot", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()
		database, err := Open(dir, testOptions(nil))
		require.NoError(t, err)
		_, _, err = openStrings(t, database, "m").Insert(ctx, "a", "1")
		require.NoError(t, err)
		_, err = database.Compact(ctx)
		require.NoError(t, err)
		require.NoError(t, database.Close())

		files, err := filepath.Glob(filepath.Join(dir, "*.snap"))
		require.NoError(t, err)
		require.Len(t, files, 1)
		raw, err := os.ReadFile(files[0])
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xFF
		require.NoError(t, os.WriteFile(files[0], raw, 0o644))

		_, err = Open(dir, testOptions(nil))
		require.ErrorIs(t, err, dberr.ErrStorageOpen)
		assert.Equal(t, dberr.CodeStorageOpen, dberr.CodeOf(err))
	})
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	database, err := Open(t.TempDir(), testOptions(nil))
	require.NoError(t, err)
	m := openStrings(t, database, "m")
	s, err := OpenSet[string](database, "s")
	require.NoError(t, err)

	require.NoError(t, database.Close())
	require.NoError(t, database.Close())
	assert.True(t, database.IsClosed())

	_, _, err = m.Insert(ctx, "a", "1")
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, _, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, _, err = m.Remove(ctx, "a")
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, err = m.Contains(ctx, "a")
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, err = m.Clear(ctx)
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, err = s.Insert(ctx, "a")
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, err = database.Compact(ctx)
	assert.ErrorIs(t, err, dberr.ErrClosed)
	_, err = OpenMap[string, string](database, "n")
	assert.ErrorIs(t, err, dberr.ErrClosed)

	it := m.Iter(ctx)
	for range it.All() {
		t.Fatal("closed iterator yielded")
	}
	assert.ErrorIs(t, it.Err(), dberr.ErrClosed)
}

func TestIteratorStopsOnCancel(t *testing.T) {
	database := openDB(t, t.TempDir(), nil)
	m := openStrings(t, database, "m")
	for i := 0; i < 10; i++ {
		_, _, err := m.Insert(context.Background(), fmt.Sprint(i), "v")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := m.Iter(ctx)
	for range it.All() {
		t.Fatal("cancelled iterator yielded")
	}
	assert.True(t, errors.Is(it.Err(), context.Canceled))

	// a fresh run starts over
	it = m.Iter(context.Background())
	var keys []string
	for k := range it.Keys() {
		keys = append(keys, k)
	}
	assert.Len(t, keys, 10)
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	database, err := Open(dir, testOptions(nil))
	require.NoError(t, err)

	s, err := OpenSet[string](database, "tags")
	require.NoError(t, err)
	existed, err := s.Insert(ctx, "go")
	require.NoError(t, err)
	assert.False(t, existed)
	existed, err = s.Insert(ctx, "go")
	require.NoError(t, err)
	assert.True(t, existed)
	added, err := s.InsertBatch(ctx, []string{"rust", "go", "zig", "c"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, false, false}, added)
	removed, err := s.Remove(ctx, "c")
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, database.Close())

	re := openDB(t, dir, nil)
	rs, err := OpenSet[string](re, "tags")
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())
	ok, err := rs.Contains(ctx, "zig")
	require.NoError(t, err)
	assert.True(t, ok)

	var got []string
	for k := range rs.Iter(ctx).Keys() {
		got = append(got, k)
	}
	assert.ElementsMatch(t, []string{"go", "rust", "zig"}, got)

	gone, err := rs.RemoveBatch(ctx, []string{"go", "c", "rust"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rust"}, gone)
	n, err := rs.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, rs.IsEmpty())
}

func TestMapsAndInfo(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	database := openDB(t, t.TempDir(), func(o *Options) { o.EventSink = rec })

	a := openStrings(t, database, "a")
	openStrings(t, database, "b")
	_, _, err := a.Insert(ctx, "k", "v")
	require.NoError(t, err)

	infos := database.Maps()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, 1, infos[0].Len)
	assert.Equal(t, "binary:string", infos[0].KeyTag)
	assert.Greater(t, infos[0].LastSeq, infos[1].LastSeq)
	assert.Len(t, rec.OfType(events.TypeMapCreated), 2)

	info := database.Info()
	assert.Equal(t, int64(1), info.Index.LiveEntries)
	assert.Contains(t, info.String(), "a")
	assert.Positive(t, info.Log.LogBytes)

	assert.Contains(t, database.Options().String(), "COMPACTION")
}
