// Package lockmgr guarantees that a database directory is opened by at most
// one DB handle at a time.
//
// A lock is held on two levels:
//
//   - In-process: a process wide registry keyed by the canonical directory
//     path. A second AcquireLock for the same directory fails even though
//     flock(2) locks are per open file description on some platforms and
//     would not conflict inside one process.
//
//   - Cross-process: an exclusive, non-blocking flock(2) on the LOCK file
//     inside the directory. The kernel drops it when the process dies, so a
//     crashed process never leaves a stale lock behind. The file also records
//     the pid of the holder for humans. On platforms without flock only the
//     in-process level is enforced.
//
// Every successful acquisition returns a random owner ID. ReleaseLock only
// releases the lock if the owner ID matches, which protects a directory from
// being unlocked by a handle that lost its lock long ago.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager()
//
//	acquired, ownerID, err := locks.AcquireLock("/var/lib/mapdb")
//	if err != nil {
//	    // Handle error
//	}
//	if !acquired {
//	    // Another handle owns the directory
//	}
//
//	// Use the directory
//	// ...
//
//	released, err := locks.ReleaseLock("/var/lib/mapdb", ownerID)
package lockmgr
