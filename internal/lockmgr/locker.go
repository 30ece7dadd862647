package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/im7mortal/kmutex"
)

var (
	// ErrNotHeld is returned when unlocking a key that is not locked.
	ErrNotHeld = errors.New("lock not held")
	// ErrEmptyKey is returned for blank lock keys.
	ErrEmptyKey = errors.New("lock key is empty")
)

// Locker serializes critical sections by key. Lock blocks until the key is
// free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) error
	Unlock(key string) error
}

// MemoryLocker is an in-process keyed mutex.
type MemoryLocker struct {
	km *kmutex.Kmutex

	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker returns an empty keyed mutex.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		km:   kmutex.New(),
		held: make(map[string]struct{}),
	}
}

// Lock acquires key. If ctx ends first the pending acquisition is handed
// off and released as soon as it completes.
func (l *MemoryLocker) Lock(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	acquired := make(chan struct{})
	go func() {
		l.km.Lock(key)
		close(acquired)
	}()

	select {
	case <-acquired:
		l.mu.Lock()
		l.held[key] = struct{}{}
		l.mu.Unlock()
		return nil
	case <-ctx.Done():
		go func() {
			<-acquired
			l.km.Unlock(key)
		}()
		return ctx.Err()
	}
}

// Unlock releases key.
func (l *MemoryLocker) Unlock(key string) error {
	l.mu.Lock()
	if _, ok := l.held[key]; !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotHeld, key)
	}
	delete(l.held, key)
	l.mu.Unlock()

	l.km.Unlock(key)
	return nil
}
