package audit

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// dirLock serializes writers to an audit directory, across goroutines with
// a mutex and across processes with flock on a lock file.
type dirLock struct {
	path string
	mu   sync.Mutex
}

func newDirLock(dir string) *dirLock {
	return &dirLock{path: filepath.Join(dir, ".lock")}
}

// lock acquires the lock and returns the function that releases it.
func (l *dirLock) lock() (func(), error) {
	l.mu.Lock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}

	// Use flock for exclusive lock
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		l.mu.Unlock()
		return nil, err
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		l.mu.Unlock()
	}, nil
}
