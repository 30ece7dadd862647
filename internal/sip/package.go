package sip

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// EntityKind names the type of an entity inside a package.
type EntityKind string

const (
	KindDeliverableUnit EntityKind = "deliverable_unit"
	KindManifestation   EntityKind = "manifestation"
	KindFile            EntityKind = "file"
	KindCollection      EntityKind = "collection"
	KindEvent           EntityKind = "event"
)

// Provenance event types recorded during staging and ingest.
const (
	EventIngestStart    = "ingest.start"
	EventIngestComplete = "ingest.complete"
	EventIngestFail     = "ingest.fail"
	EventDeposit        = "deposit"
	EventFileUpload     = "file.upload"
	EventFixityDigest   = "fixity.digest"
)

var (
	// ErrDuplicateEvent is returned when an event id is already attached.
	ErrDuplicateEvent = errors.New("event already attached")
	// ErrInvalidEvent is returned for events missing an id or type.
	ErrInvalidEvent = errors.New("invalid event")
)

// Package is a Submission Information Package.
type Package struct {
	ID               string            `json:"id"`
	DeliverableUnits []DeliverableUnit `json:"deliverable_units,omitempty"`
	Manifestations   []Manifestation   `json:"manifestations,omitempty"`
	Files            []File            `json:"files,omitempty"`
	Collections      []Collection      `json:"collections,omitempty"`
	Events           []Event           `json:"events,omitempty"`
}

// DeliverableUnit is a top-level described object within a package.
type DeliverableUnit struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	Collections []string `json:"collections,omitempty"`
	Parents     []string `json:"parents,omitempty"`
}

// Manifestation groups the files that realize a deliverable unit.
type Manifestation struct {
	ID              string   `json:"id"`
	DeliverableUnit string   `json:"deliverable_unit"`
	Type            string   `json:"type,omitempty"`
	Files           []string `json:"files,omitempty"`
}

// File describes one content file and where its bytes live.
type File struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Source   string   `json:"source"`
	MimeType string   `json:"mime_type,omitempty"`
	Size     int64    `json:"size"`
	Extant   bool     `json:"extant"`
	Fixity   []Fixity `json:"fixity,omitempty"`
}

// Collection is a named grouping of deliverable units.
type Collection struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Parent string `json:"parent,omitempty"`
}

// Fixity is a digest value asserting content integrity.
type Fixity struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Event is an immutable provenance record about one or more entities.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Outcome string    `json:"outcome,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Date    time.Time `json:"date"`
	Targets []string  `json:"targets,omitempty"`
}

// Validate checks that the event can be attached.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: event %s has no type", ErrInvalidEvent, e.ID)
	}
	return nil
}

// TargetsEntity reports whether the event refers to id.
func (e Event) TargetsEntity(id string) bool {
	return slices.Contains(e.Targets, id)
}

// Clone returns a deep copy of the package.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	out := &Package{ID: p.ID}
	if p.DeliverableUnits != nil {
		out.DeliverableUnits = make([]DeliverableUnit, len(p.DeliverableUnits))
		for i, du := range p.DeliverableUnits {
			du.Collections = slices.Clone(du.Collections)
			du.Parents = slices.Clone(du.Parents)
			out.DeliverableUnits[i] = du
		}
	}
	if p.Manifestations != nil {
		out.Manifestations = make([]Manifestation, len(p.Manifestations))
		for i, m := range p.Manifestations {
			m.Files = slices.Clone(m.Files)
			out.Manifestations[i] = m
		}
	}
	if p.Files != nil {
		out.Files = make([]File, len(p.Files))
		for i, f := range p.Files {
			f.Fixity = slices.Clone(f.Fixity)
			out.Files[i] = f
		}
	}
	out.Collections = slices.Clone(p.Collections)
	if p.Events != nil {
		out.Events = make([]Event, len(p.Events))
		for i, e := range p.Events {
			e.Targets = slices.Clone(e.Targets)
			out.Events[i] = e
		}
	}
	return out
}

// EntityIDs lists every non-event entity id in the package in a stable order:
// deliverable units, manifestations, files, then collections.
func (p *Package) EntityIDs() []string {
	ids := make([]string, 0, len(p.DeliverableUnits)+len(p.Manifestations)+len(p.Files)+len(p.Collections))
	for _, du := range p.DeliverableUnits {
		ids = append(ids, du.ID)
	}
	for _, m := range p.Manifestations {
		ids = append(ids, m.ID)
	}
	for _, f := range p.Files {
		ids = append(ids, f.ID)
	}
	for _, c := range p.Collections {
		ids = append(ids, c.ID)
	}
	return ids
}

// Kind returns the kind of the entity with the given id.
func (p *Package) Kind(id string) (EntityKind, bool) {
	for _, du := range p.DeliverableUnits {
		if du.ID == id {
			return KindDeliverableUnit, true
		}
	}
	for _, m := range p.Manifestations {
		if m.ID == id {
			return KindManifestation, true
		}
	}
	for _, f := range p.Files {
		if f.ID == id {
			return KindFile, true
		}
	}
	for _, c := range p.Collections {
		if c.ID == id {
			return KindCollection, true
		}
	}
	for _, e := range p.Events {
		if e.ID == id {
			return KindEvent, true
		}
	}
	return "", false
}

// HasEntity reports whether any entity (including events) carries id.
func (p *Package) HasEntity(id string) bool {
	_, ok := p.Kind(id)
	return ok
}

// FindFile returns a pointer into the package's file list.
func (p *Package) FindFile(id string) *File {
	for i := range p.Files {
		if p.Files[i].ID == id {
			return &p.Files[i]
		}
	}
	return nil
}

// Event returns the event with the given id.
func (p *Package) Event(id string) (Event, bool) {
	for _, e := range p.Events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// AddEvent appends an event. Events already present (by id) are rejected so
// the event log stays append-only.
func (p *Package) AddEvent(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, exists := p.Event(e.ID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
	}
	e.Targets = slices.Clone(e.Targets)
	p.Events = append(p.Events, e)
	return nil
}

// EventsOfType returns events matching any of the given types, in attachment
// order. No types returns every event.
func (p *Package) EventsOfType(types ...string) []Event {
	out := make([]Event, 0, len(p.Events))
	for _, e := range p.Events {
		if len(types) == 0 || slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// EventsTargeting returns events that target any of the given entity ids.
func (p *Package) EventsTargeting(ids ...string) []Event {
	out := make([]Event, 0)
	for _, e := range p.Events {
		for _, id := range ids {
			if e.TargetsEntity(id) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Validate checks identifier uniqueness and internal references.
func (p *Package) Validate() error {
	if p == nil {
		return errors.New("package is nil")
	}
	seen := make(map[string]EntityKind)
	record := func(id string, kind EntityKind) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s with empty id", kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("duplicate id %q (%s and %s)", id, prev, kind)
		}
		seen[id] = kind
		return nil
	}
	for _, du := range p.DeliverableUnits {
		if err := record(du.ID, KindDeliverableUnit); err != nil {
			return err
		}
	}
	for _, m := range p.Manifestations {
		if err := record(m.ID, KindManifestation); err != nil {
			return err
		}
	}
	for _, f := range p.Files {
		if err := record(f.ID, KindFile); err != nil {
			return err
		}
	}
	for _, c := range p.Collections {
		if err := record(c.ID, KindCollection); err != nil {
			return err
		}
	}
	for _, e := range p.Events {
		if err := e.Validate(); err != nil {
			return err
		}
		if err := record(e.ID, KindEvent); err != nil {
			return err
		}
	}
	for _, m := range p.Manifestations {
		if seen[m.DeliverableUnit] != KindDeliverableUnit {
			return fmt.Errorf("manifestation %s references unknown deliverable unit %q", m.ID, m.DeliverableUnit)
		}
		for _, fileID := range m.Files {
			if seen[fileID] != KindFile {
				return fmt.Errorf("manifestation %s references unknown file %q", m.ID, fileID)
			}
		}
	}
	return nil
}

// Encode serializes the package.
func Encode(p *Package) ([]byte, error) {
	if p == nil {
		return nil, errors.New("package is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode package %s: %w", p.ID, err)
	}
	return data, nil
}

// Decode parses a package produced by Encode.
func Decode(data []byte) (*Package, error) {
	var p Package
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode package: %w", err)
	}
	return &p, nil
}
