package vfs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is returned by FaultyFS when no rule specific error is set.
var ErrInjected = errors.New("vfs: injected fault")

// Fault defines specific failure behavior.
type Fault struct {
	FailAfterBytes int64 // Fail writes once this many bytes were written to matching files since the rule was added. -1 to disable.
	FailOnSync     bool
	FailOnClose    bool
	FailOnTruncate bool
	Err            error // Error to return (nil = ErrInjected)
}

type rule struct {
	pattern string
	fault   Fault
	written int64
}

// FaultyFS is a FileSystem wrapper that can inject errors. Rules are matched by
// substring against the file name and apply to already open files as well, the
// last added matching rule wins.
//
// FaultyFS also remembers how many bytes of each file were synced. Crash
// truncates every file to that size, which simulates a power loss that drops
// everything not yet flushed to stable storage.
type FaultyFS struct {
	FS FileSystem

	mu     sync.Mutex
	rules  []*rule
	synced map[string]int64
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:     fs,
		synced: make(map[string]int64),
	}
}

// AddRule adds a fault injection rule for files whose name contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.rules = append(f.rules, &rule{pattern: pattern, fault: fault})
}

// ClearRules removes all rules.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = nil
}

// match returns the rule for name. Caller must hold f.mu.
func (f *FaultyFS) match(name string) *rule {
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(name, f.rules[i].pattern) {
			return f.rules[i]
		}
	}
	return nil
}

// Crash truncates every file written through this FaultyFS to the size it had
// at its last successful sync. Files must be closed by the caller first (or
// abandoned, as a crashed process would).
func (f *FaultyFS) Crash() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for name, size := range f.synced {
		if err := f.FS.Truncate(name, size); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		f.mu.Lock()
		if _, ok := f.synced[name]; !ok || flag&os.O_TRUNC != 0 {
			// a file that existed before counts as synced up to its current size
			size := int64(0)
			if st, err := file.Stat(); err == nil && flag&os.O_TRUNC == 0 {
				size = st.Size()
			}
			f.synced[name] = size
		}
		f.mu.Unlock()
	}

	return &faultyFile{File: file, fs: f, name: name}, nil
}

func (f *FaultyFS) Remove(name string) error {
	f.mu.Lock()
	delete(f.synced, name)
	f.mu.Unlock()
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if err := f.FS.Rename(oldpath, newpath); err != nil {
		return err
	}
	f.mu.Lock()
	if size, ok := f.synced[oldpath]; ok {
		f.synced[newpath] = size
		delete(f.synced, oldpath)
	}
	f.mu.Unlock()
	return nil
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) {
	return f.FS.ReadDir(name)
}

func (f *FaultyFS) Truncate(name string, size int64) error {
	f.mu.Lock()
	if r := f.match(name); r != nil && r.fault.FailOnTruncate {
		f.mu.Unlock()
		return r.fault.Err
	}
	f.mu.Unlock()
	if err := f.FS.Truncate(name, size); err != nil {
		return err
	}
	f.shrink(name, size)
	return nil
}

// shrink lowers the synced size of name after a truncation
func (f *FaultyFS) shrink(name string, size int64) {
	f.mu.Lock()
	if synced, ok := f.synced[name]; ok && synced > size {
		f.synced[name] = size
	}
	f.mu.Unlock()
}

func (f *FaultyFS) SyncDir(dir string) error {
	return f.FS.SyncDir(dir)
}

type faultyFile struct {
	File
	fs   *FaultyFS
	name string
}

// Write writes p, failing (after a partial, torn write) once a FailAfterBytes
// budget is exhausted
func (ff *faultyFile) Write(p []byte) (int, error) {
	ff.fs.mu.Lock()
	r := ff.fs.match(ff.name)
	if r == nil || r.fault.FailAfterBytes < 0 {
		ff.fs.mu.Unlock()
		return ff.File.Write(p)
	}

	allowed := r.fault.FailAfterBytes - r.written
	if allowed >= int64(len(p)) {
		r.written += int64(len(p))
		ff.fs.mu.Unlock()
		return ff.File.Write(p)
	}
	if allowed < 0 {
		allowed = 0
	}
	r.written += allowed
	err := r.fault.Err
	ff.fs.mu.Unlock()

	n, werr := ff.File.Write(p[:allowed])
	if werr != nil {
		return n, werr
	}
	return n, err
}

func (ff *faultyFile) Sync() error {
	ff.fs.mu.Lock()
	r := ff.fs.match(ff.name)
	ff.fs.mu.Unlock()
	if r != nil && r.fault.FailOnSync {
		return r.fault.Err
	}

	if err := ff.File.Sync(); err != nil {
		return err
	}
	if st, err := ff.File.Stat(); err == nil {
		ff.fs.mu.Lock()
		ff.fs.synced[ff.name] = st.Size()
		ff.fs.mu.Unlock()
	}
	return nil
}

func (ff *faultyFile) Truncate(size int64) error {
	ff.fs.mu.Lock()
	r := ff.fs.match(ff.name)
	ff.fs.mu.Unlock()
	if r != nil && r.fault.FailOnTruncate {
		return r.fault.Err
	}
	if err := ff.File.Truncate(size); err != nil {
		return err
	}
	ff.fs.shrink(ff.name, size)
	return nil
}

func (ff *faultyFile) Close() error {
	ff.fs.mu.Lock()
	r := ff.fs.match(ff.name)
	ff.fs.mu.Unlock()
	if r != nil && r.fault.FailOnClose {
		_ = ff.File.Close()
		return r.fault.Err
	}
	return ff.File.Close()
}
