/*
Package persistence implements the durable part of mapdb: an append-only,
checksummed operation log plus per-map snapshots inside one database
directory.

# Write path

Callers Submit records to a lock-free request queue. A single writer goroutine
takes batches from the queue, assigns strictly increasing sequence numbers,
writes the whole batch with one write call and fsyncs once (group commit).
Only after the fsync returned does it run the apply callback of every request,
in sequence number order, and complete it. A failed write is truncated away and
fails the batch without applying anything. A failed fsync poisons the engine:
every later append fails because the state of the file is unknown.

A request that is still queued when its context ends is dropped. Once the
writer claimed it, it commits regardless and Wait reports the real outcome.

# Files

	LOCK                              advisory lock, owned by lib/db
	wal-<first seq>.log               log segments, the newest is active
	snap-<hex map name>-<marker>.snap one snapshot per map
	*.tmp                             interrupted snapshot writes, removed at open

# Recovery

Open loads the newest snapshot of every map and replays all log records with
a sequence number above the marker of their map's snapshot. A torn or
damaged record at the end of the last segment is the trace of a crash and is
truncated away (reported as a CorruptRecordDiscarded event). The same damage
anywhere else, a damaged snapshot or an unknown format version makes Open
fail.

# Compaction

Compaction rotates the log, snapshots every map that changed since its last
snapshot (on a bounded errgroup) and, once every snapshot is durable, deletes
the sealed segments and superseded snapshots. It runs in the background when
the log outgrows the snapshots by CompactionLogMultiple or after
CompactionInterval, throttled by a rate limiter, and on demand via Compact.

Snapshots are captured while the map is being written, so they may contain
entries newer than their marker. Replaying the log on top of such a snapshot
is still correct because the index rejects writes older than the entry it
holds and clears only remove entries older than the clear.
*/
package persistence
