// Package index implements the in-memory part of mapdb: a sharded, concurrent
// hash index from (map name, encoded key) to encoded value.
//
// The index is partitioned into a fixed number of shards. The shard of an entry
// is selected by a seeded FNV-1a hash of the map name and the key; every shard
// holds one xsync.MapOf table per map, so there is no global lock on the hot path
// and operations on different keys proceed in parallel.
//
// Every entry carries the sequence number of the mutation that wrote it. Put,
// Remove and Clear only take effect if their sequence number is not older than
// the stored one, which makes them idempotent under retry and lets the
// persistence layer replay a fuzzy snapshot plus the log in any overlap.
// Removed keys are kept as tombstones until PurgeTombstones drops the ones
// covered by a durable snapshot.
//
// Scan and Capture iterate a map lazily, one shard at a time. Each shard's
// entries are copied before they are yielded, so a key that is live when the
// iteration starts and is not modified concurrently is yielded exactly once.
//
// The index never touches the disk. It is owned by a db.DB which applies
// mutations only after they are durable.
package index
