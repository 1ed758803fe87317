package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/mapdb/lib/db"
	"github.com/ValentinKolb/mapdb/lib/dberr"
)

// DBFactory opens the database in path. It is called again with the same path
// to test recovery, so it must not wipe the directory.
type DBFactory func(t *testing.T, path string) *db.DB

// RunMapTests runs a comprehensive test suite against databases created by
// factory.
func RunMapTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, open(t, factory))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, open(t, factory))
		})

		t.Run("Contains", func(t *testing.T) {
			testContains(t, open(t, factory))
		})

		t.Run("Iter", func(t *testing.T) {
			testIter(t, open(t, factory))
		})

		t.Run("Clear", func(t *testing.T) {
			testClear(t, open(t, factory))
		})

		t.Run("Batches", func(t *testing.T) {
			testBatches(t, open(t, factory))
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("CompactLoad", func(t *testing.T) {
			testCompactLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, open(t, factory))
		})

		t.Run("ManyKeys", func(t *testing.T) {
			testManyKeys(t, open(t, factory))
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, open(t, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// open creates a database in a fresh directory
func open(t *testing.T, factory DBFactory) *db.DB {
	return factory(t, t.TempDir())
}

func mustMap[K, V any](t *testing.T, database *db.DB, name string) *db.TypedMap[K, V] {
	t.Helper()
	m, err := db.OpenMap[K, V](database, name)
	if err != nil {
		t.Fatalf("Failed to open map %s: %v", name, err)
	}
	return m
}

func mustInsert[K, V any](t *testing.T, m *db.TypedMap[K, V], k K, v V) {
	t.Helper()
	if _, _, err := m.Insert(context.Background(), k, v); err != nil {
		t.Fatalf("Insert(%v) failed: %v", k, err)
	}
}

func snapshot[K comparable, V any](t *testing.T, m *db.TypedMap[K, V]) map[K]V {
	t.Helper()
	out := make(map[K]V)
	it := m.Iter(context.Background())
	for k, v := range it.All() {
		if _, dup := out[k]; dup {
			t.Errorf("Iterator yielded key %v twice", k)
		}
		out[k] = v
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	return out
}

func sameBytesMaps(a, b map[string][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, []byte](t, database, "insert-get")

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	_, existed, err := m.Insert(ctx, testKey, testValue1)
	if err != nil || existed {
		t.Fatalf("Expected fresh insert, got existed=%t err=%v", existed, err)
	}

	result, exists, err := m.Get(ctx, testKey)
	if err != nil || !exists {
		t.Errorf("Expected key %s to exist after Insert (err=%v)", testKey, err)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	prev, existed, err := m.Insert(ctx, testKey, testValue2)
	if err != nil || !existed {
		t.Errorf("Expected replace to report the previous value (err=%v)", err)
	}
	if !bytes.Equal(prev, testValue1) {
		t.Errorf("Expected previous value %s, got %s", testValue1, prev)
	}

	result, _, _ = m.Get(ctx, testKey)
	if !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	_, exists, _ = m.Get(ctx, "nonexistent-key")
	if exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _, _ := m.Get(ctx, testKey)
	retrievedValue[0] = 'X'

	originalValue, _, _ := m.Get(ctx, testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testRemove(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, string](t, database, "remove")

	mustInsert(t, m, "delete-key", "delete-value")

	prev, existed, err := m.Remove(ctx, "delete-key")
	if err != nil || !existed || prev != "delete-value" {
		t.Errorf("Expected Remove to return the value, got %q existed=%t err=%v", prev, existed, err)
	}

	if _, exists, _ := m.Get(ctx, "delete-key"); exists {
		t.Errorf("Expected key to be removed")
	}

	// removing again is a no-op
	if _, existed, err := m.Remove(ctx, "delete-key"); err != nil || existed {
		t.Errorf("Expected second Remove to be a no-op, got existed=%t err=%v", existed, err)
	}

	// a removed key can be inserted again
	mustInsert(t, m, "delete-key", "again")
	if v, _, _ := m.Get(ctx, "delete-key"); v != "again" {
		t.Errorf("Expected value after reinsert, got %q", v)
	}
}

func testContains(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[int64, bool](t, database, "contains")

	if ok, _ := m.Contains(ctx, 1); ok {
		t.Errorf("Expected empty map to contain nothing")
	}
	if !m.IsEmpty() {
		t.Errorf("Expected empty map")
	}

	mustInsert(t, m, 1, false)
	if ok, _ := m.Contains(ctx, 1); !ok {
		t.Errorf("Expected key with zero value to be contained")
	}
	if m.Len() != 1 || m.IsEmpty() {
		t.Errorf("Expected one entry, got %d", m.Len())
	}
}

func testIter(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, string](t, database, "iter")

	mustInsert(t, m, "a", "1")
	mustInsert(t, m, "b", "2")
	if _, _, err := m.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	got := snapshot(t, m)
	if len(got) != 1 || got["b"] != "2" {
		t.Errorf("Expected exactly {b: 2}, got %v", got)
	}

	// an iterator can be ranged over again from the start
	it := m.Iter(ctx)
	for i := 0; i < 2; i++ {
		n := 0
		for range it.All() {
			n++
		}
		if n != 1 {
			t.Errorf("Run %d: expected 1 entry, got %d", i, n)
		}
	}

	// breaking out early is fine
	for range it.All() {
		break
	}
	if it.Err() != nil {
		t.Errorf("Expected no error after break, got %v", it.Err())
	}
}

func testClear(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, string](t, database, "clear")
	other := mustMap[string, string](t, database, "clear-other")

	for i := 0; i < 100; i++ {
		mustInsert(t, m, fmt.Sprint(i), "v")
	}
	mustInsert(t, other, "x", "y")

	n, err := m.Clear(ctx)
	if err != nil || n != 100 {
		t.Errorf("Expected 100 cleared entries, got %d (err=%v)", n, err)
	}
	if !m.IsEmpty() {
		t.Errorf("Expected map to be empty after Clear, got %d entries", m.Len())
	}
	if other.Len() != 1 {
		t.Errorf("Clear must not touch other maps")
	}
}

func testBatches(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[uint32, string](t, database, "batches")

	pairs := make([]db.Pair[uint32, string], 100)
	for i := range pairs {
		pairs[i] = db.Pair[uint32, string]{Key: uint32(i), Value: fmt.Sprint(i)}
	}
	prevs, err := m.InsertBatch(ctx, pairs)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if len(prevs) != len(pairs) {
		t.Errorf("Expected %d previous values, got %d", len(pairs), len(prevs))
	}
	if m.Len() != 100 {
		t.Errorf("Expected 100 entries, got %d", m.Len())
	}

	keys := make([]uint32, 0, 50)
	for i := uint32(0); i < 100; i += 2 {
		keys = append(keys, i)
	}
	removed, err := m.RemoveBatch(ctx, keys)
	if err != nil {
		t.Fatalf("RemoveBatch failed: %v", err)
	}
	if len(removed) != len(keys) {
		t.Errorf("Expected %d removed pairs, got %d", len(keys), len(removed))
	}
	for _, p := range removed {
		if p.Value != fmt.Sprint(p.Key) {
			t.Errorf("Removed key %d had value %q", p.Key, p.Value)
		}
	}
	for i := uint32(0); i < 100; i++ {
		ok, _ := m.Contains(ctx, i)
		if ok != (i%2 == 1) {
			t.Errorf("Key %d: expected contained=%t", i, i%2 == 1)
		}
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	ctx := context.Background()
	path := t.TempDir()

	database := factory(t, path)
	m := mustMap[string, []byte](t, database, "save-load")
	s, err := db.OpenSet[int](database, "save-load-set")
	if err != nil {
		t.Fatalf("OpenSet failed: %v", err)
	}

	want := make(map[string][]byte)
	for i := 0; i < 500; i++ {
		k := fmt.Sprintf("key-%d", i)
		v := []byte(fmt.Sprintf("value-%d", i))
		mustInsert(t, m, k, v)
		want[k] = v
		if _, err := s.Insert(ctx, i); err != nil {
			t.Fatalf("Set insert failed: %v", err)
		}
	}
	for i := 0; i < 500; i += 3 {
		k := fmt.Sprintf("key-%d", i)
		if _, _, err := m.Remove(ctx, k); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		delete(want, k)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := factory(t, path)
	defer reopened.Close()

	rm := mustMap[string, []byte](t, reopened, "save-load")
	if got := snapshot(t, rm); !sameBytesMaps(got, want) {
		t.Errorf("Recovered %d entries, expected %d", len(got), len(want))
	}
	rs, err := db.OpenSet[int](reopened, "save-load-set")
	if err != nil {
		t.Fatalf("OpenSet after reopen failed: %v", err)
	}
	if rs.Len() != 500 {
		t.Errorf("Expected 500 set elements, got %d", rs.Len())
	}

	// the recovered database keeps accepting writes
	mustInsert(t, rm, "after-reopen", []byte("x"))
}

func testCompactLoad(t *testing.T, factory DBFactory) {
	ctx := context.Background()
	path := t.TempDir()

	database := factory(t, path)
	m := mustMap[string, string](t, database, "compact-load")
	for i := 0; i < 300; i++ {
		mustInsert(t, m, fmt.Sprint(i), "before")
	}
	if _, err := database.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	for i := 0; i < 300; i += 2 {
		mustInsert(t, m, fmt.Sprint(i), "after")
	}
	for i := 1; i < 300; i += 4 {
		if _, _, err := m.Remove(ctx, fmt.Sprint(i)); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}
	want := snapshot(t, m)
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := factory(t, path)
	defer reopened.Close()
	got := snapshot(t, mustMap[string, string](t, reopened, "compact-load"))
	if len(got) != len(want) {
		t.Fatalf("Recovered %d entries, expected %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Key %s: expected %q, got %q", k, v, got[k])
		}
	}
}

func testEdgeCases(t *testing.T, database *db.DB) {
	ctx := context.Background()
	m := mustMap[string, []byte](t, database, "edge-cases")

	// empty key and empty value
	mustInsert(t, m, "", []byte{})
	if v, ok, _ := m.Get(ctx, ""); !ok || len(v) != 0 {
		t.Errorf("Expected empty key with empty value, got %v ok=%t", v, ok)
	}

	// binary data with every byte value
	binaryKey := string([]byte{0, 1, 2, 255, 254, 253})
	binaryValue := make([]byte, 256)
	for i := range binaryValue {
		binaryValue[i] = byte(i)
	}
	mustInsert(t, m, binaryKey, binaryValue)
	if v, _, _ := m.Get(ctx, binaryKey); !bytes.Equal(v, binaryValue) {
		t.Errorf("Binary value mismatch")
	}

	// a large value
	largeValue := bytes.Repeat([]byte("large"), 200_000)
	mustInsert(t, m, "large", largeValue)
	if v, _, _ := m.Get(ctx, "large"); !bytes.Equal(v, largeValue) {
		t.Errorf("Large value mismatch")
	}

	// cancelled context
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := m.Get(cctx, "large"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, _, err := m.Get(ctx, "large"); !errors.Is(err, dberr.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func testManyKeys(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, string](t, database, "many-keys")

	prefix := "collision-test-"
	numKeys := 1000

	pairs := make([]db.Pair[string, string], numKeys)
	for i := 0; i < numKeys; i++ {
		pairs[i] = db.Pair[string, string]{Key: fmt.Sprintf("%s%d", prefix, i), Value: fmt.Sprintf("value-%d", i)}
	}
	if _, err := m.InsertBatch(ctx, pairs); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		expectedValue := fmt.Sprintf("value-%d", i)

		actualValue, exists, _ := m.Get(ctx, key)
		if !exists {
			t.Errorf("Key %s not found", key)
			continue
		}
		if actualValue != expectedValue {
			t.Errorf("Value for key %s does not match: expected %s, got %s", key, expectedValue, actualValue)
		}
	}

	for i := 0; i < numKeys; i += 2 {
		if _, _, err := m.Remove(ctx, fmt.Sprintf("%s%d", prefix, i)); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		_, exists, _ := m.Get(ctx, key)

		if i%2 == 0 && exists {
			t.Errorf("Key %s should be deleted", key)
		} else if i%2 == 1 && !exists {
			t.Errorf("Key %s should still exist", key)
		}
	}
}

func testRealisticUsage(t *testing.T, database *db.DB) {
	defer database.Close()
	ctx := context.Background()
	m := mustMap[string, []byte](t, database, "realistic")

	type operation struct {
		op    string
		key   string
		value []byte
	}

	numOperations := 4_000
	numWorkers := 8
	operations := make([]operation, numOperations)

	for i := 0; i < numOperations; i++ {
		var op string
		switch i % 10 {
		case 0, 1, 2, 3, 4, 5, 6:
			op = "insert"
		case 7, 8:
			op = "get"
		case 9:
			op = "remove"
		}

		// every worker owns its keys, so the final state is known
		key := fmt.Sprintf("key-%d-%d", i%numWorkers, i%97)

		var value []byte
		if op == "insert" {
			valueSize := 64
			if i%10 == 0 {
				valueSize = 1024
			}
			value = make([]byte, valueSize)
			for j := 0; j < valueSize; j++ {
				value[j] = byte((i + j) % 256)
			}
		}

		operations[i] = operation{op, key, value}
	}

	var (
		wg         sync.WaitGroup
		errorCount atomic.Int32
		mu         sync.Mutex
		want       = make(map[string][]byte)
	)
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerID int) {
			defer wg.Done()

			local := make(map[string][]byte)
			for i := workerID; i < numOperations; i += numWorkers {
				op := operations[i]

				var err error
				switch op.op {
				case "insert":
					_, _, err = m.Insert(ctx, op.key, op.value)
					local[op.key] = op.value
				case "get":
					_, _, err = m.Get(ctx, op.key)
				case "remove":
					_, _, err = m.Remove(ctx, op.key)
					delete(local, op.key)
				}
				if err != nil {
					errorCount.Add(1)
				}
			}

			mu.Lock()
			for k, v := range local {
				want[k] = v
			}
			mu.Unlock()
		}(w)
	}

	wg.Wait()

	if n := errorCount.Load(); n > 0 {
		t.Fatalf("Test had %d errors during parallel operations", n)
	}

	if got := snapshot(t, m); !sameBytesMaps(got, want) {
		t.Errorf("Final state has %d entries, expected %d", len(got), len(want))
	}
	if m.Len() != len(want) {
		t.Errorf("Len reports %d, expected %d", m.Len(), len(want))
	}
}
