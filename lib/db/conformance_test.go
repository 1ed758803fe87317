package db_test

import (
	"testing"
	"time"

	"github.com/ValentinKolb/mapdb/lib/db"
	dbtesting "github.com/ValentinKolb/mapdb/lib/db/testing"
	"github.com/ValentinKolb/mapdb/lib/persistence"
)

func factoryWith(configure func(*db.Options)) dbtesting.DBFactory {
	return func(t *testing.T, path string) *db.DB {
		opts := db.DefaultOptions()
		configure(opts)
		database, err := db.Open(path, opts)
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		return database
	}
}

func TestConformance(t *testing.T) {
	dbtesting.RunMapTests(t, "Default", factoryWith(func(*db.Options) {}))

	dbtesting.RunMapTests(t, "Zstd", factoryWith(func(o *db.Options) {
		o.SnapshotCompression = persistence.CompressionZstd
	}))

	dbtesting.RunMapTests(t, "LZ4", factoryWith(func(o *db.Options) {
		o.SnapshotCompression = persistence.CompressionLZ4
	}))

	dbtesting.RunMapTests(t, "SingleShard", factoryWith(func(o *db.Options) {
		o.NumShards = 1
		o.HashSeed = 42
	}))

	dbtesting.RunMapTests(t, "SmallLog", factoryWith(func(o *db.Options) {
		o.MaxBatch = 1
		o.CompactionMinLogBytes = 8 << 10
		o.CompactionLogMultiple = 1
		o.CompactionCheckInterval = 10 * time.Millisecond
		o.CompactionMinGap = 0
	}))
}
