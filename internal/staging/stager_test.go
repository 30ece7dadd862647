package staging_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/staging"
)

func newStager(t *testing.T, opts ...staging.Option) *staging.DirStager {
	t.Helper()
	stager, err := staging.NewDirStager(t.TempDir(), 0, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewDirStager: %v", err)
	}
	return stager
}

func TestAddGetOpen(t *testing.T) {
	stager := newStager(t)
	ctx := context.Background()

	staged, err := stager.Add(ctx, "sip-1", "Café notes.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if staged.Size != 5 || staged.SIPRef != "sip-1" {
		t.Fatalf("unexpected staged file %#v", staged)
	}
	if staged.Name != "Café notes.txt" {
		t.Fatalf("name not normalized: %q", staged.Name)
	}
	if !strings.HasPrefix(staged.AccessURI, "file://") || !strings.HasSuffix(staged.AccessURI, staged.ID) {
		t.Fatalf("unexpected access uri %q", staged.AccessURI)
	}
	if staged.ReferenceURI != staging.ReferencePrefix+staged.ID {
		t.Fatalf("unexpected reference uri %q", staged.ReferenceURI)
	}
	if filepath.Dir(staged.Path) != stager.SIPDir("sip-1") {
		t.Fatalf("content stored outside sip dir: %s", staged.Path)
	}

	for _, ref := range []string{staged.ID, staged.ReferenceURI, staged.AccessURI} {
		got, err := stager.Get(ctx, ref)
		if err != nil {
			t.Fatalf("Get(%q): %v", ref, err)
		}
		if got.ID != staged.ID || got.Path != staged.Path {
			t.Fatalf("Get(%q) = %#v", ref, got)
		}
	}

	rc, _, err := stager.Open(ctx, staged.ReferenceURI)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "hello" {
		t.Fatalf("read staged content = %q, %v", data, err)
	}
}

func TestRemoveAndList(t *testing.T) {
	stager := newStager(t)
	ctx := context.Background()

	first, err := stager.Add(ctx, "sip-1", "a.txt", strings.NewReader("a"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := stager.Add(ctx, "sip-1", "b.txt", strings.NewReader("bb"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := stager.Add(ctx, "sip-2", "c.txt", strings.NewReader("c")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	files, err := stager.List(ctx, "sip-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 || files[0].ID != first.ID || files[1].ID != second.ID {
		t.Fatalf("unexpected listing %#v", files)
	}

	if err := stager.Remove(ctx, first.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(first.Path); !os.IsNotExist(err) {
		t.Fatalf("content should be removed, stat err %v", err)
	}
	_, err = stager.Get(ctx, first.ID)
	if !errors.Is(err, staging.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if services.Kind(err) != "not_found" {
		t.Fatalf("Kind = %q, want not_found", services.Kind(err))
	}

	if err := stager.RemoveSIP(ctx, "sip-1"); err != nil {
		t.Fatalf("RemoveSIP: %v", err)
	}
	files, err = stager.List(ctx, "sip-1")
	if err != nil || len(files) != 0 {
		t.Fatalf("expected empty listing, got %v (%v)", files, err)
	}
	if files, _ := stager.List(ctx, "sip-2"); len(files) != 1 {
		t.Fatalf("other sip content should survive, got %v", files)
	}
}

func TestAddRejectsLowFreeSpace(t *testing.T) {
	stub := func(string) (uint64, uint64, error) { return 100, 2, nil }
	stager, err := staging.NewDirStager(t.TempDir(), 0.05, logging.NewNop(), staging.WithStatfs(stub))
	if err != nil {
		t.Fatalf("NewDirStager: %v", err)
	}
	_, err = stager.Add(context.Background(), "sip-1", "a.txt", strings.NewReader("a"))
	if !errors.Is(err, staging.ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
}

func TestAddValidatesInput(t *testing.T) {
	stager := newStager(t)
	if _, err := stager.Add(context.Background(), " ", "a", strings.NewReader("a")); services.Kind(err) != "validation" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddStopsOnCancelledContext(t *testing.T) {
	stager := newStager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stager.Add(ctx, "sip-1", "a.txt", strings.NewReader("abc")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	files, err := stager.List(context.Background(), "sip-1")
	if err != nil || len(files) != 0 {
		t.Fatalf("expected nothing staged, got %v (%v)", files, err)
	}
}

func TestParseReference(t *testing.T) {
	const id = "6f1c7f4e-8a47-4c1e-9d3b-0b5f8f0a2c11"
	for _, ref := range []string{id, staging.ReferencePrefix + id, "file:///tmp/staging/sip/" + id} {
		got, ok := staging.ParseReference(ref)
		if !ok || got != id {
			t.Fatalf("ParseReference(%q) = %q, %v", ref, got, ok)
		}
	}
	if _, ok := staging.ParseReference("../../etc/passwd"); ok {
		t.Fatal("expected arbitrary path to be rejected")
	}
}
