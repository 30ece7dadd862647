package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sead/internal/sip"
)

const entityColumns = "id, kind, body, event_type, event_outcome, created_at, updated_at"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanEntity(scanner interface{ Scan(dest ...any) error }) (*Entity, error) {
	var (
		id           string
		kind         string
		body         string
		eventType    sql.NullString
		eventOutcome sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(&id, &kind, &body, &eventType, &eventOutcome, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	entity := &Entity{
		ID:           id,
		Kind:         sip.EntityKind(kind),
		Body:         []byte(body),
		EventType:    eventType.String,
		EventOutcome: eventOutcome.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entity.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entity.UpdatedAt = updated
	}
	return entity, nil
}

func collectEntities(rows *sql.Rows) ([]*Entity, error) {
	defer rows.Close()
	var out []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

// loadTargets fills Targets for every event entity in the slice.
func (s *Store) loadTargets(ctx context.Context, entities []*Entity) error {
	byID := make(map[string]*Entity)
	args := make([]any, 0, len(entities))
	for _, entity := range entities {
		if entity == nil || entity.Kind != sip.KindEvent {
			continue
		}
		entity.Targets = nil
		byID[entity.ID] = entity
		args = append(args, entity.ID)
	}
	if len(args) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, target_id FROM event_targets WHERE event_id IN (`+makePlaceholders(len(args))+`) ORDER BY rowid`,
		args...)
	if err != nil {
		return fmt.Errorf("load event targets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventID, targetID string
		if err := rows.Scan(&eventID, &targetID); err != nil {
			return fmt.Errorf("scan event target: %w", err)
		}
		if entity := byID[eventID]; entity != nil {
			entity.Targets = append(entity.Targets, targetID)
		}
	}
	return rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
