package lockmgr

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"
)

// held is one acquired directory lock
type held struct {
	ownerID []byte
	file    *os.File // nil while the acquisition is in progress
}

// registry holds the directories locked by this process, shared by all lock managers
var registry = xsync.NewMapOf[string, *held]()

type lockMgrImpl struct{}

// NewLockManager returns a lock manager. All managers of a process share the
// same registry, so it is safe to create one per DB.
func NewLockManager() ILockManager {
	return lockMgrImpl{}
}

// canonical returns the registry key for dir
func canonical(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

func (lockMgrImpl) AcquireLock(dir string) (bool, []byte, error) {
	key, err := canonical(dir)
	if err != nil {
		return false, nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	// Generate owner ID (256 bit random value)
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// Claim the directory inside this process first (atomic, only one caller wins)
	h := &held{ownerID: ownerID}
	if _, loaded := registry.LoadOrStore(key, h); loaded {
		return false, nil, nil
	}

	f, err := os.OpenFile(filepath.Join(dir, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		registry.Delete(key)
		return false, nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	// Then across processes
	ok, err := lockFile(f)
	if err != nil || !ok {
		_ = f.Close()
		registry.Delete(key)
		if err != nil {
			return false, nil, fmt.Errorf("failed to lock %s: %w", dir, err)
		}
		return false, nil, nil
	}

	// the pid is informational only, failing to write it does not matter
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	h.file = f
	return true, ownerID, nil
}

func (lockMgrImpl) ReleaseLock(dir string, ownerID []byte) (bool, error) {
	key, err := canonical(dir)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	// Check if the lock exists
	h, ok := registry.Load(key)
	if !ok {
		return true, nil
	}

	// Check if the lock is owned by us
	if !bytes.Equal(ownerID, h.ownerID) || h.file == nil {
		return false, nil
	}

	// Release the lock, closing the file drops the flock as well
	uerr := unlockFile(h.file)
	cerr := h.file.Close()
	registry.Delete(key)

	if uerr != nil {
		return true, fmt.Errorf("failed to unlock %s: %w", dir, uerr)
	}
	if cerr != nil {
		return true, fmt.Errorf("failed to close lock file: %w", cerr)
	}
	return true, nil
}

func (lockMgrImpl) IsLocked(dir string) bool {
	key, err := canonical(dir)
	if err != nil {
		return false
	}
	_, ok := registry.Load(key)
	return ok
}
