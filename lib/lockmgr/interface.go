package lockmgr

// LockFileName is the name of the lock file inside a locked directory
const LockFileName = "LOCK"

// ILockManager defines the interface for a directory lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock of the given directory without blocking.
	// Return a boolean indicating whether the lock was acquired, an owner ID, and an error if any.
	AcquireLock(dir string) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock of the given directory.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return True if the lock did not exist.
	ReleaseLock(dir string, ownerID []byte) (ok bool, err error)

	// IsLocked returns true if the directory is locked by this process
	IsLocked(dir string) bool
}
