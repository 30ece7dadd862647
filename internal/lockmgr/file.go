package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"sead/internal/textutil"
)

const defaultPollInterval = 50 * time.Millisecond

// FileLocker holds one flock(2) lock file per key under a directory, so
// separate processes sharing the directory exclude each other.
type FileLocker struct {
	dir  string
	poll time.Duration

	mu   sync.Mutex
	held map[string]*flock.Flock
}

// NewFileLocker creates the lock directory if needed.
func NewFileLocker(dir string, poll time.Duration) (*FileLocker, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("lockmgr: lock directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockmgr: create lock directory: %w", err)
	}
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &FileLocker{dir: dir, poll: poll, held: make(map[string]*flock.Flock)}, nil
}

// Path returns the lock file used for key.
func (l *FileLocker) Path(key string) string {
	return filepath.Join(l.dir, lockFileName(key))
}

// Lock polls for the key's lock file until it is acquired or ctx ends.
func (l *FileLocker) Lock(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fl := flock.New(l.Path(key))
	ok, err := fl.TryLockContext(ctx, l.poll)
	if err != nil {
		return fmt.Errorf("lockmgr: lock %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("lockmgr: lock %s not acquired", key)
	}

	l.mu.Lock()
	l.held[key] = fl
	l.mu.Unlock()
	return nil
}

// Unlock releases the key's lock file. The file itself stays in place;
// removing it would race with waiters that already opened it.
func (l *FileLocker) Unlock(key string) error {
	l.mu.Lock()
	fl, ok := l.held[key]
	if ok {
		delete(l.held, key)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("lockmgr: unlock %s: %w", key, err)
	}
	return nil
}

func lockFileName(key string) string {
	return textutil.PathKey(key) + ".lock"
}
