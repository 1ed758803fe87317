// Package testing provides a standardised conformance suite for mapdb
// databases.
//
// RunMapTests exercises the typed map API (inserts, removes, iteration,
// batches, clears) and reopens the database directory to check that every
// acknowledged write is recovered, with and without a compaction in between.
// The suite is meant to be run once per option set, e.g. for every snapshot
// compression or a different shard count.
//
// Example usage:
//
//	factory := func(t *testing.T, path string) *db.DB {
//		opts := db.DefaultOptions()
//		opts.SnapshotCompression = persistence.CompressionZstd
//		database, err := db.Open(path, opts)
//		if err != nil {
//			t.Fatal(err)
//		}
//		return database
//	}
//
//	testing.RunMapTests(t, "Zstd", factory)
package testing
