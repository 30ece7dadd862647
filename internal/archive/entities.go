package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"sead/internal/services"
	"sead/internal/sip"
)

// ErrEntityExists is returned by InsertAll when an id is already taken.
var ErrEntityExists = fmt.Errorf("entity already archived: %w", services.ErrConflict)

// KindStagedPackage marks a whole serialized package held for staging.
const KindStagedPackage sip.EntityKind = "staged_package"

// Entity is one archived record.
type Entity struct {
	ID           string
	Kind         sip.EntityKind
	Body         []byte
	EventType    string
	EventOutcome string
	Targets      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewEntity serializes value as the body of an entity of the given kind.
func NewEntity(kind sip.EntityKind, id string, value any) (Entity, error) {
	if strings.TrimSpace(id) == "" {
		return Entity{}, fmt.Errorf("archive: %s entity has empty id", kind)
	}
	body, err := json.Marshal(value)
	if err != nil {
		return Entity{}, fmt.Errorf("archive: encode %s %s: %w", kind, id, err)
	}
	return Entity{ID: id, Kind: kind, Body: body}, nil
}

// EventEntity builds the indexed entity for a provenance event.
func EventEntity(ev sip.Event) (Entity, error) {
	entity, err := NewEntity(sip.KindEvent, ev.ID, ev)
	if err != nil {
		return Entity{}, err
	}
	entity.EventType = ev.Type
	entity.EventOutcome = ev.Outcome
	entity.Targets = slices.Clone(ev.Targets)
	return entity, nil
}

// PackageEntities converts every entity of pkg, events included, into
// archive records.
func PackageEntities(pkg *sip.Package) ([]Entity, error) {
	if pkg == nil {
		return nil, errors.New("archive: package is nil")
	}
	out := make([]Entity, 0, len(pkg.EntityIDs())+len(pkg.Events))
	add := func(kind sip.EntityKind, id string, value any) error {
		entity, err := NewEntity(kind, id, value)
		if err != nil {
			return err
		}
		out = append(out, entity)
		return nil
	}
	for _, du := range pkg.DeliverableUnits {
		if err := add(sip.KindDeliverableUnit, du.ID, du); err != nil {
			return nil, err
		}
	}
	for _, m := range pkg.Manifestations {
		if err := add(sip.KindManifestation, m.ID, m); err != nil {
			return nil, err
		}
	}
	for _, f := range pkg.Files {
		if err := add(sip.KindFile, f.ID, f); err != nil {
			return nil, err
		}
	}
	for _, c := range pkg.Collections {
		if err := add(sip.KindCollection, c.ID, c); err != nil {
			return nil, err
		}
	}
	for _, ev := range pkg.Events {
		entity, err := EventEntity(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// Decode unmarshals the entity body into v.
func (e Entity) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("archive: decode %s %s: %w", e.Kind, e.ID, err)
	}
	return nil
}

// Put inserts or replaces a single entity.
func (s *Store) Put(ctx context.Context, entity Entity) error {
	return s.PutAll(ctx, []Entity{entity})
}

// PutAll inserts or replaces entities in one transaction; either every entity
// is stored or none is.
func (s *Store) PutAll(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return s.writeAll(ctx, entities, true)
	})
}

// InsertAll stores entities in one transaction like PutAll but never
// replaces a stored record: if any id already exists, nothing is written and
// the error wraps ErrEntityExists.
func (s *Store) InsertAll(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		return s.writeAll(ctx, entities, false)
	})
}

func (s *Store) writeAll(ctx context.Context, entities []Entity, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	timestamp := formatTime(time.Now())
	for _, entity := range entities {
		if strings.TrimSpace(entity.ID) == "" {
			return errors.New("archive: entity id is empty")
		}
		if entity.Kind == "" {
			return fmt.Errorf("archive: entity %s has no kind", entity.ID)
		}
		if !replace {
			var kind string
			err := tx.QueryRowContext(ctx, `SELECT kind FROM entities WHERE id = ?`, entity.ID).Scan(&kind)
			switch {
			case err == nil:
				return fmt.Errorf("%w: %s %s (held by %s)", ErrEntityExists, entity.Kind, entity.ID, kind)
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("check entity %s: %w", entity.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (id, kind, body, event_type, event_outcome, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(id) DO UPDATE SET
                kind = excluded.kind,
                body = excluded.body,
                event_type = excluded.event_type,
                event_outcome = excluded.event_outcome,
                updated_at = excluded.updated_at`,
			entity.ID,
			string(entity.Kind),
			string(entity.Body),
			nullableString(entity.EventType),
			nullableString(entity.EventOutcome),
			timestamp,
			timestamp,
		); err != nil {
			return fmt.Errorf("put entity %s: %w", entity.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM event_targets WHERE event_id = ?`, entity.ID); err != nil {
			return fmt.Errorf("reset targets for %s: %w", entity.ID, err)
		}
		for _, target := range entity.Targets {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO event_targets (event_id, target_id) VALUES (?, ?)`,
				entity.ID, target,
			); err != nil {
				return fmt.Errorf("put target %s for %s: %w", target, entity.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put: %w", err)
	}
	return nil
}

// Get fetches an entity by identifier. A missing entity returns nil, nil.
func (s *Store) Get(ctx context.Context, id string) (*Entity, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if err := s.loadTargets(ctx, []*Entity{entity}); err != nil {
		return nil, err
	}
	return entity, nil
}

// GetMany fetches the entities that exist among ids, preserving the order of ids.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id IN (`+makePlaceholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	found, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Entity, len(found))
	for _, entity := range found {
		byID[entity.ID] = entity
	}
	out := make([]*Entity, 0, len(found))
	for _, id := range ids {
		if entity, ok := byID[id]; ok {
			out = append(out, entity)
			delete(byID, id)
		}
	}
	if err := s.loadTargets(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an entity. Deleting a missing entity is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete entity %s: %w", id, err)
		}
		return nil
	})
}

// IDs lists entity identifiers of the given kind ordered by creation time.
func (s *Store) IDs(ctx context.Context, kind sip.EntityKind) ([]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entities WHERE kind = ? ORDER BY created_at, rowid`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
