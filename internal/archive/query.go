package archive

import (
	"context"
	"fmt"
	"strings"

	"sead/internal/sip"
)

// EventQuery filters archived events by indexed columns. Empty fields match
// anything.
type EventQuery struct {
	Type    string
	Outcome string
}

// FindEvents returns archived events matching q, oldest first.
func (s *Store) FindEvents(ctx context.Context, q EventQuery) ([]*Entity, error) {
	ctx = ensureContext(ctx)
	clauses := []string{"kind = ?"}
	args := []any{string(sip.KindEvent)}
	if q.Type != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, q.Type)
	}
	if q.Outcome != "" {
		clauses = append(clauses, "event_outcome = ?")
		args = append(args, q.Outcome)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE `+strings.Join(clauses, " AND ")+` ORDER BY created_at, rowid`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	events, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadTargets(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// EventsTargeting returns every archived event that targets any of ids.
func (s *Store) EventsTargeting(ctx context.Context, ids []string) ([]*Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedColumns("e")+` FROM entities e
         WHERE e.kind = 'event' AND e.id IN (
             SELECT DISTINCT event_id FROM event_targets WHERE target_id IN (`+makePlaceholders(len(ids))+`)
         )
         ORDER BY e.created_at, e.rowid`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("events targeting: %w", err)
	}
	events, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadTargets(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// Stats summarizes archive contents.
type Stats struct {
	Entities int
	ByKind   map[sip.EntityKind]int
	// Ingested counts completed ingests.
	Ingested int
}

// Stats counts archived entities by kind.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByKind: make(map[sip.EntityKind]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM entities GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("archive stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByKind[sip.EntityKind(kind)] = count
		stats.Entities += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE kind = ? AND event_type = ?`,
		string(sip.KindEvent), sip.EventIngestComplete,
	).Scan(&stats.Ingested); err != nil {
		return stats, fmt.Errorf("count ingests: %w", err)
	}
	return stats, nil
}

func prefixedColumns(alias string) string {
	cols := strings.Split(entityColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}
