// Package events records provenance events against staged submission
// packages.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sead/internal/lockmgr"
	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/sip"
	"sead/internal/stager"
)

var (
	// ErrDuplicateEvent is returned when an event id is already attached to
	// the package.
	ErrDuplicateEvent = sip.ErrDuplicateEvent
	// ErrEventNotFound is returned by Event for unknown event ids.
	ErrEventNotFound = fmt.Errorf("event %w", services.ErrNotFound)
)

// Manager attaches events to packages held by a stager. Every
// read-modify-write of a package goes through a per-SIP lock.
type Manager struct {
	reader stager.Stager
	writer stager.Stager
	locker lockmgr.Locker
	logger *slog.Logger
	now    func() time.Time
}

// NewManager returns a manager over st. A nil locker gets a private
// in-process one; callers that share packages with other writers should pass
// the shared locker. When st layers read-only fallbacks over a writable
// stager, queries see every layer but changes only touch packages held by
// the writable one.
func NewManager(st stager.Stager, locker lockmgr.Locker, logger *slog.Logger) (*Manager, error) {
	if st == nil {
		return nil, errors.New("events: stager is nil")
	}
	if locker == nil {
		locker = lockmgr.NewMemoryLocker()
	}
	writer := st
	if layered, ok := st.(interface{ Writable() stager.Stager }); ok {
		writer = layered.Writable()
	}
	return &Manager{
		reader: st,
		writer: writer,
		locker: locker,
		logger: logging.NewComponentLogger(logger, "events"),
		now:    time.Now,
	}, nil
}

// LockKey is the locker key guarding changes to the staged package sipID.
func LockKey(sipID string) string {
	return "sip:" + sipID
}

// NewEvent returns an event with a fresh id and the current UTC time.
func (m *Manager) NewEvent(eventType string) sip.Event {
	return sip.Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Date: m.now().UTC(),
	}
}

// AddEvent appends ev to the staged package sipID.
func (m *Manager) AddEvent(ctx context.Context, sipID string, ev sip.Event) error {
	return m.AddEvents(ctx, sipID, ev)
}

// AddEvents appends evs in order. Either all events are attached or none is.
func (m *Manager) AddEvents(ctx context.Context, sipID string, evs ...sip.Event) error {
	if len(evs) == 0 {
		return nil
	}
	err := m.Update(ctx, sipID, func(pkg *sip.Package) error {
		for _, ev := range evs {
			if err := pkg.AddEvent(ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sip.ErrDuplicateEvent) || errors.Is(err, sip.ErrInvalidEvent) {
			marker := services.ErrValidation
			if errors.Is(err, sip.ErrDuplicateEvent) {
				marker = services.ErrConflict
			}
			return services.Wrap(marker, "events", "add", sipID, err)
		}
		return err
	}
	for _, ev := range evs {
		logging.WithContext(services.WithSIPID(ctx, sipID), m.logger).Debug("event recorded",
			logging.String("event_id", ev.ID),
			logging.String("type", ev.Type),
		)
	}
	return nil
}

// Events returns the package's events matching any of types (all events
// when types is empty), in attachment order.
func (m *Manager) Events(ctx context.Context, sipID string, types ...string) ([]sip.Event, error) {
	pkg, err := m.reader.Get(ctx, sipID)
	if err != nil {
		return nil, err
	}
	return pkg.EventsOfType(types...), nil
}

// EventsForTargets returns the package's events that target any of ids.
func (m *Manager) EventsForTargets(ctx context.Context, sipID string, ids ...string) ([]sip.Event, error) {
	pkg, err := m.reader.Get(ctx, sipID)
	if err != nil {
		return nil, err
	}
	return pkg.EventsTargeting(ids...), nil
}

// Event returns a single event by id.
func (m *Manager) Event(ctx context.Context, sipID, eventID string) (sip.Event, error) {
	pkg, err := m.reader.Get(ctx, sipID)
	if err != nil {
		return sip.Event{}, err
	}
	ev, ok := pkg.Event(eventID)
	if !ok {
		return sip.Event{}, fmt.Errorf("%w: %s in %s", ErrEventNotFound, eventID, sipID)
	}
	return ev, nil
}

// Update loads sipID under its lock, applies fn and stores the result. The
// package is left untouched when fn fails.
func (m *Manager) Update(ctx context.Context, sipID string, fn func(*sip.Package) error) error {
	return m.withLock(ctx, sipID, func() error {
		pkg, err := m.writer.Get(ctx, sipID)
		if err != nil {
			return err
		}
		before := len(pkg.Events)
		if err := fn(pkg); err != nil {
			return err
		}
		if len(pkg.Events) < before {
			return fmt.Errorf("events: update of %s dropped events", sipID)
		}
		return m.writer.Update(ctx, sipID, pkg)
	})
}

// View loads sipID under its lock and passes it to fn without storing
// anything afterwards.
func (m *Manager) View(ctx context.Context, sipID string, fn func(*sip.Package) error) error {
	return m.withLock(ctx, sipID, func() error {
		pkg, err := m.writer.Get(ctx, sipID)
		if err != nil {
			return err
		}
		return fn(pkg)
	})
}

func (m *Manager) withLock(ctx context.Context, sipID string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	key := LockKey(sipID)
	if err := m.locker.Lock(ctx, key); err != nil {
		return fmt.Errorf("lock sip %s: %w", sipID, err)
	}
	defer func() { _ = m.locker.Unlock(key) }()
	return fn()
}

