package stager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"sead/internal/archive"
	"sead/internal/sip"
)

// QueryStager rebuilds ingested packages from the archive index. A package
// is found through the ingest.complete events whose outcome is its id; the
// events' targets, entities and events alike, plus every event targeting
// them make up the package. It never writes.
type QueryStager struct {
	store *archive.Store
}

// NewQueryStager returns a read-only stager over store.
func NewQueryStager(store *archive.Store) (*QueryStager, error) {
	if store == nil {
		return nil, errors.New("query stager: store is nil")
	}
	return &QueryStager{store: store}, nil
}

func (q *QueryStager) Keys(ctx context.Context) ([]string, error) {
	events, err := q.store.FindEvents(ctx, archive.EventQuery{Type: sip.EventIngestComplete})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(events))
	keys := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.EventOutcome == "" {
			continue
		}
		if _, ok := seen[ev.EventOutcome]; ok {
			continue
		}
		seen[ev.EventOutcome] = struct{}{}
		keys = append(keys, ev.EventOutcome)
	}
	sort.Strings(keys)
	return keys, nil
}

func (q *QueryStager) Get(ctx context.Context, id string) (*sip.Package, error) {
	if id == "" {
		return nil, notFound(id)
	}
	completions, err := q.store.FindEvents(ctx, archive.EventQuery{Type: sip.EventIngestComplete, Outcome: id})
	if err != nil {
		return nil, err
	}
	if len(completions) == 0 {
		return nil, notFound(id)
	}

	var targets []string
	seen := make(map[string]struct{})
	for _, ev := range completions {
		for _, target := range ev.Targets {
			if _, ok := seen[target]; !ok {
				seen[target] = struct{}{}
				targets = append(targets, target)
			}
		}
	}

	pkg := &sip.Package{ID: id}
	entities, err := q.store.GetMany(ctx, targets)
	if err != nil {
		return nil, err
	}
	for _, entity := range entities {
		if err := addEntity(pkg, entity); err != nil {
			return nil, err
		}
	}

	events, err := q.store.EventsTargeting(ctx, targets)
	if err != nil {
		return nil, err
	}
	for _, entity := range events {
		if err := addEntity(pkg, entity); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

func (q *QueryStager) Add(context.Context, *sip.Package) (string, error) {
	return "", ErrReadOnly
}

func (q *QueryStager) Update(context.Context, string, *sip.Package) error {
	return ErrReadOnly
}

func (q *QueryStager) Remove(context.Context, string) error {
	return ErrReadOnly
}

func (q *QueryStager) NewID() string {
	return uuid.NewString()
}

func addEntity(pkg *sip.Package, entity *archive.Entity) error {
	switch entity.Kind {
	case sip.KindDeliverableUnit:
		var du sip.DeliverableUnit
		if err := entity.Decode(&du); err != nil {
			return err
		}
		pkg.DeliverableUnits = append(pkg.DeliverableUnits, du)
	case sip.KindManifestation:
		var m sip.Manifestation
		if err := entity.Decode(&m); err != nil {
			return err
		}
		pkg.Manifestations = append(pkg.Manifestations, m)
	case sip.KindFile:
		var f sip.File
		if err := entity.Decode(&f); err != nil {
			return err
		}
		pkg.Files = append(pkg.Files, f)
	case sip.KindCollection:
		var c sip.Collection
		if err := entity.Decode(&c); err != nil {
			return err
		}
		pkg.Collections = append(pkg.Collections, c)
	case sip.KindEvent:
		var ev sip.Event
		if err := entity.Decode(&ev); err != nil {
			return err
		}
		if _, exists := pkg.Event(ev.ID); exists {
			return nil
		}
		pkg.Events = append(pkg.Events, ev)
	default:
		return fmt.Errorf("query stager: unexpected %s entity %s", entity.Kind, entity.ID)
	}
	return nil
}
