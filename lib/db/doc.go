// Package db is the public API of mapdb: a persistent, disk backed store of
// named, typed maps inside one directory.
//
// A DB owns the directory. It holds an exclusive lock on it, keeps all
// entries of all maps in a sharded in-memory index and makes every mutation
// durable in a checksummed append-only log before it becomes visible. The log
// is compacted into per-map snapshots in the background.
//
//	database, err := db.Open("/var/lib/app", nil)
//	if err != nil {
//		return err
//	}
//	defer database.Close()
//
//	users, err := db.OpenMap[string, User](database, "users")
//	if err != nil {
//		return err
//	}
//	if _, _, err := users.Insert(ctx, "alice", User{Name: "Alice"}); err != nil {
//		return err
//	}
//
// Keys and values are encoded with a codec.Codec. Primitive types use the
// fixed binary codec, other types use gob unless WithKeyCodec or
// WithValueCodec select another one. The codec tags are stored with the map,
// so a map cannot be reopened with other types.
//
// Writes return once they are durable and applied. Writes of concurrent
// callers share one fsync (group commit). InsertAsync and RemoveAsync return
// a Future for callers that want to pipeline writes.
//
// Errors are *dberr.Error values, test them with errors.Is against the
// dberr sentinels.
package db
