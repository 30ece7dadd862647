package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sead/internal/logging"
)

var (
	// ErrAlreadyHeld is returned when a session asks for a key it already holds.
	ErrAlreadyHeld = errors.New("lock already held by this session")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("lock manager closed")
)

// Entry describes one held lock.
type Entry struct {
	Key        string
	Value      string
	AcquiredAt time.Time
}

// Lock is a single acquisition obtained through a Manager.
type Lock struct {
	manager *Manager
	entry   Entry
}

// Key returns the locked key.
func (l *Lock) Key() string { return l.entry.Key }

// Value returns the value recorded at acquisition.
func (l *Lock) Value() string { return l.entry.Value }

// Entry returns a copy of the lock's entry.
func (l *Lock) Entry() Entry { return l.entry }

// Release frees the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.manager == nil {
		return nil
	}
	return l.manager.release(l)
}

// Manager tracks the locks acquired during one ingest session.
type Manager struct {
	locker Locker
	logger *slog.Logger

	mu      sync.Mutex
	held    map[string]*Lock
	pending map[string]struct{}
	closed  bool
}

// NewManager returns a session backed by locker. A nil locker gets a private
// MemoryLocker.
func NewManager(locker Locker, logger *slog.Logger) *Manager {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Manager{
		locker:  locker,
		logger:  logging.NewComponentLogger(logger, "lockmgr"),
		held:    make(map[string]*Lock),
		pending: make(map[string]struct{}),
	}
}

// ObtainLock blocks until key is acquired or ctx ends. A key already held
// (or being acquired) by this session fails with ErrAlreadyHeld.
func (m *Manager) ObtainLock(ctx context.Context, key, value string) (*Lock, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := m.held[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyHeld, key)
	}
	if _, ok := m.pending[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyHeld, key)
	}
	m.pending[key] = struct{}{}
	m.mu.Unlock()

	err := m.locker.Lock(ctx, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	if m.closed {
		_ = m.locker.Unlock(key)
		return nil, ErrClosed
	}
	lock := &Lock{manager: m, entry: Entry{Key: key, Value: value, AcquiredAt: time.Now().UTC()}}
	m.held[key] = lock
	m.logger.Debug("lock obtained", logging.String("key", key), logging.String("value", value))
	return lock, nil
}

func (m *Manager) release(l *Lock) error {
	m.mu.Lock()
	current, ok := m.held[l.entry.Key]
	if !ok || current != l {
		m.mu.Unlock()
		return nil
	}
	delete(m.held, l.entry.Key)
	m.mu.Unlock()

	if err := m.locker.Unlock(l.entry.Key); err != nil {
		return fmt.Errorf("release lock %s: %w", l.entry.Key, err)
	}
	m.logger.Debug("lock released", logging.String("key", l.entry.Key))
	return nil
}

// Held lists the session's locks in acquisition order.
func (m *Manager) Held() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]Entry, 0, len(m.held))
	for _, lock := range m.held {
		entries = append(entries, lock.entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AcquiredAt.Equal(entries[j].AcquiredAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].AcquiredAt.Before(entries[j].AcquiredAt)
	})
	return entries
}

// ReleaseLocks releases every lock the session holds.
func (m *Manager) ReleaseLocks() error {
	m.mu.Lock()
	locks := make([]*Lock, 0, len(m.held))
	for _, lock := range m.held {
		locks = append(locks, lock)
	}
	m.mu.Unlock()

	var errs []error
	for _, lock := range locks {
		if err := m.release(lock); err != nil {
			errs = append(errs, err)
		}
	}
	if len(locks) > 0 {
		m.logger.Debug("session locks released", logging.Int("count", len(locks)))
	}
	return errors.Join(errs...)
}

// Close releases all locks and rejects further acquisitions.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.ReleaseLocks()
}
