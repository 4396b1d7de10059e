package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another indexer")

// DataLock is the exclusive writer lock of a data directory.
type DataLock struct {
	lock *flock.Flock
}

// LockDataDir takes the writer lock of dir without waiting.
func LockDataDir(dir string) (*DataLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "tokenindex.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data directory: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}
	return &DataLock{lock: lock}, nil
}

// Unlock releases the lock.
func (l *DataLock) Unlock() error {
	return l.lock.Unlock()
}
