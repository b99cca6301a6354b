package store

import (
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// LockMode selects whether Reserve takes an exclusive (writer) or shared (reader) lock.
type LockMode int

const (
	// LockExclusive serializes against every other locker; used for pull and remove.
	LockExclusive LockMode = iota
	// LockShared allows concurrent readers but is drained by a pending exclusive locker; used for serve-time reads.
	LockShared
)

// Handle is the advisory lock held on one (scheme,path) model directory for
// the duration of a pull, remove, or serve-time read.
type Handle struct {
	Token string
	dir   string
	file  *os.File
	mode  LockMode

	mu       sync.Mutex
	released bool
}

// Reserve acquires a process-advisory flock on modelDir/.lock, blocking until
// it is available. Concurrent readers (serve-time) take a shared lock;
// writers (pull, remove) take an exclusive lock that drains existing readers
// first, per spec §4.B.
func Reserve(modelDir string, mode LockMode) (*Handle, error) {
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating model directory %s: %w", modelDir, err)
	}
	lockPath := modelDir + "/.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	how := syscall.LOCK_EX
	if mode == LockShared {
		how = syscall.LOCK_SH
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}

	return &Handle{Token: uuid.NewString(), dir: modelDir, file: f, mode: mode}, nil
}

// Release drops the lock. Idempotent: releasing twice is a no-op.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	if err := syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN); err != nil {
		h.file.Close()
		return fmt.Errorf("unlocking %s: %w", h.dir, err)
	}
	return h.file.Close()
}
