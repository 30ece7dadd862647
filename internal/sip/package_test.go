package sip_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"sead/internal/sip"
)

func samplePackage() *sip.Package {
	return &sip.Package{
		ID:               "sip-1",
		DeliverableUnits: []sip.DeliverableUnit{{ID: "du-1", Title: "Survey", Collections: []string{"col-1"}}},
		Manifestations:   []sip.Manifestation{{ID: "man-1", DeliverableUnit: "du-1", Files: []string{"file-1"}}},
		Files: []sip.File{{
			ID: "file-1", Name: "data.csv", Source: "file:///tmp/data.csv", Size: 12,
			Fixity: []sip.Fixity{{Algorithm: "MD5", Value: "abc"}},
		}},
		Collections: []sip.Collection{{ID: "col-1", Title: "Field work"}},
		Events: []sip.Event{{
			ID: "ev-1", Type: sip.EventDeposit, Date: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Targets: []string{"file-1"},
		}},
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := samplePackage()
	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	clone.Files[0].Fixity[0].Value = "changed"
	clone.Events[0].Targets[0] = "other"
	clone.Manifestations[0].Files[0] = "other"
	clone.DeliverableUnits[0].Collections[0] = "other"

	if orig.Files[0].Fixity[0].Value != "abc" {
		t.Fatal("fixity slice shared between clone and original")
	}
	if orig.Events[0].Targets[0] != "file-1" {
		t.Fatal("event targets shared between clone and original")
	}
	if orig.Manifestations[0].Files[0] != "file-1" {
		t.Fatal("manifestation files shared between clone and original")
	}
	if orig.DeliverableUnits[0].Collections[0] != "col-1" {
		t.Fatal("deliverable unit collections shared between clone and original")
	}
}

func TestAddEventIsAppendOnly(t *testing.T) {
	pkg := samplePackage()
	if err := pkg.AddEvent(sip.Event{ID: "ev-1", Type: sip.EventFileUpload}); !errors.Is(err, sip.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
	if err := pkg.AddEvent(sip.Event{ID: "ev-2"}); !errors.Is(err, sip.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent for missing type, got %v", err)
	}
	if err := pkg.AddEvent(sip.Event{ID: "ev-2", Type: sip.EventFixityDigest, Targets: []string{"file-1"}}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if got := len(pkg.EventsOfType(sip.EventFixityDigest)); got != 1 {
		t.Fatalf("expected one fixity event, got %d", got)
	}
	if got := len(pkg.EventsTargeting("file-1")); got != 2 {
		t.Fatalf("expected two events targeting file-1, got %d", got)
	}
	if got := len(pkg.EventsOfType()); got != 2 {
		t.Fatalf("expected all events without type filter, got %d", got)
	}
}

func TestKindAndEntityIDs(t *testing.T) {
	pkg := samplePackage()
	want := []string{"du-1", "man-1", "file-1", "col-1"}
	if diff := cmp.Diff(want, pkg.EntityIDs()); diff != "" {
		t.Fatalf("EntityIDs mismatch (-want +got):\n%s", diff)
	}
	if kind, ok := pkg.Kind("man-1"); !ok || kind != sip.KindManifestation {
		t.Fatalf("unexpected kind for man-1: %v %v", kind, ok)
	}
	if kind, ok := pkg.Kind("ev-1"); !ok || kind != sip.KindEvent {
		t.Fatalf("unexpected kind for ev-1: %v %v", kind, ok)
	}
	if pkg.HasEntity("missing") {
		t.Fatal("expected missing entity to be absent")
	}
	if f := pkg.FindFile("file-1"); f == nil || f.Name != "data.csv" {
		t.Fatalf("unexpected FindFile result: %#v", f)
	}
}

func TestValidateReferences(t *testing.T) {
	if err := samplePackage().Validate(); err != nil {
		t.Fatalf("expected sample package to validate: %v", err)
	}

	pkg := samplePackage()
	pkg.Manifestations[0].Files = append(pkg.Manifestations[0].Files, "ghost")
	if err := pkg.Validate(); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected unknown file error, got %v", err)
	}

	pkg = samplePackage()
	pkg.Collections[0].ID = "du-1"
	if err := pkg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate id") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	pkg := samplePackage()
	data, err := sip.Encode(pkg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := sip.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(pkg, decoded); diff != "" {
		t.Fatalf("decoded package differs (-want +got):\n%s", diff)
	}
	if _, err := sip.Decode([]byte("{")); err == nil {
		t.Fatal("expected error for malformed input")
	}
}
