package stager_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sead/internal/archive"
	"sead/internal/services"
	"sead/internal/sip"
	"sead/internal/stager"
	"sead/internal/testsupport"
)

// recordingStager counts Update calls per id on top of a MemoryStager.
type recordingStager struct {
	*stager.MemoryStager

	mu      sync.Mutex
	updates map[string]int
	fail    error
}

func newRecording() *recordingStager {
	return &recordingStager{MemoryStager: stager.NewMemoryStager(), updates: make(map[string]int)}
}

func (r *recordingStager) Update(ctx context.Context, id string, pkg *sip.Package) error {
	r.mu.Lock()
	fail := r.fail
	if fail == nil {
		r.updates[id]++
	}
	r.mu.Unlock()
	if fail != nil {
		return fail
	}
	return r.MemoryStager.Update(ctx, id, pkg)
}

func (r *recordingStager) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[id]
}

func newCached(t *testing.T, delegate stager.Stager, capacity int) *stager.CachedStager {
	t.Helper()
	cached, err := stager.NewCachedStager(delegate, capacity, nil)
	if err != nil {
		t.Fatalf("NewCachedStager: %v", err)
	}
	return cached
}

func TestMemoryStagerLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := stager.NewMemoryStager()

	id, err := mem.Add(ctx, &sip.Package{})
	if err != nil || id == "" {
		t.Fatalf("Add = %q, %v", id, err)
	}
	if _, err := mem.Add(ctx, &sip.Package{ID: id}); !errors.Is(err, stager.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := mem.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Files = append(got.Files, sip.File{ID: "f"})
	again, _ := mem.Get(ctx, id)
	if len(again.Files) != 0 {
		t.Fatal("mutating a returned package changed the stored copy")
	}

	if err := mem.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := mem.Remove(ctx, id); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	_, err = mem.Get(ctx, id)
	if !errors.Is(err, stager.ErrNotFound) || services.Kind(err) != "not_found" {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCachedWriteThenReadReturnsSameContent(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached := newCached(t, delegate, 4)

	pkg := testsupport.NewPackage("sip-1")
	if _, err := cached.Add(ctx, pkg); err != nil {
		t.Fatalf("Add: %v", err)
	}
	pkg.DeliverableUnits[0].Title = "revised"
	if err := cached.Update(ctx, "sip-1", pkg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := cached.Get(ctx, "sip-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(pkg, got); diff != "" {
		t.Fatalf("cached read mismatch (-want +got):\n%s", diff)
	}
	if delegate.count("sip-1") != 0 || delegate.Len() != 0 {
		t.Fatal("writes within capacity should stay in the cache")
	}
}

func TestCachedEvictionWritesThroughOnce(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached := newCached(t, delegate, 2)

	for _, id := range []string{"a", "b"} {
		if _, err := cached.Add(ctx, testsupport.NewPackage(id)); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	// Touch "a" so "b" is least recently used.
	if _, err := cached.Get(ctx, "a"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cached.Add(ctx, testsupport.NewPackage("c")); err != nil {
		t.Fatalf("Add c: %v", err)
	}

	if got := delegate.count("b"); got != 1 {
		t.Fatalf("expected one write-through for b, got %d", got)
	}
	if delegate.count("a") != 0 || delegate.count("c") != 0 {
		t.Fatal("only the evicted entry should be written through")
	}

	// Reading b back loads a clean copy (evicting a, which is dirty); once b
	// is least recently used again its eviction writes nothing.
	if _, err := cached.Get(ctx, "b"); err != nil {
		t.Fatalf("Get b: %v", err)
	}
	if got := delegate.count("a"); got != 1 {
		t.Fatalf("expected one write-through for a, got %d", got)
	}
	if _, err := cached.Get(ctx, "c"); err != nil {
		t.Fatalf("Get c: %v", err)
	}
	if _, err := cached.Add(ctx, testsupport.NewPackage("d")); err != nil {
		t.Fatalf("Add d: %v", err)
	}
	if got := delegate.count("b"); got != 1 {
		t.Fatalf("clean entry was written again: %d writes", got)
	}
	if stats := cached.Stats(); stats.WriteThroughs != 2 || stats.Len != 2 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestCachedFailedWriteThroughKeepsEntry(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached := newCached(t, delegate, 1)

	if _, err := cached.Add(ctx, testsupport.NewPackage("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	delegate.fail = errors.New("disk full")
	if _, err := cached.Add(ctx, testsupport.NewPackage("b")); err == nil {
		t.Fatal("expected eviction failure")
	}
	if _, err := cached.Get(ctx, "a"); err != nil {
		t.Fatalf("entry a should remain cached: %v", err)
	}
}

func TestCachedRemoveDoesNotWriteThrough(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached := newCached(t, delegate, 2)

	if _, err := cached.Add(ctx, testsupport.NewPackage("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := cached.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if delegate.count("a") != 0 {
		t.Fatal("explicit removal wrote through")
	}
	if _, err := cached.Get(ctx, "a"); !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedFlushAndKeys(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached := newCached(t, delegate, 8)

	if err := delegate.MemoryStager.Update(ctx, "old", testsupport.NewPackage("old")); err != nil {
		t.Fatalf("seed delegate: %v", err)
	}
	for _, id := range []string{"x", "y"} {
		if _, err := cached.Add(ctx, testsupport.NewPackage(id)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := cached.Add(ctx, testsupport.NewPackage("old")); !errors.Is(err, stager.ErrExists) {
		t.Fatalf("expected ErrExists for delegate id, got %v", err)
	}

	keys, err := cached.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if diff := cmp.Diff([]string{"old", "x", "y"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := cached.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := cached.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if delegate.count("x") != 1 || delegate.count("y") != 1 {
		t.Fatalf("expected one write per dirty entry, got x=%d y=%d", delegate.count("x"), delegate.count("y"))
	}
}

func TestNewCachedStagerRejectsBadCapacity(t *testing.T) {
	if _, err := stager.NewCachedStager(stager.NewMemoryStager(), 0, nil); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestReadingStagerFallsBackInOrder(t *testing.T) {
	ctx := context.Background()
	writable := stager.NewMemoryStager()
	first := stager.NewMemoryStager()
	second := stager.NewMemoryStager()

	shared := testsupport.NewPackage("shared")
	shared.DeliverableUnits[0].Title = "from first"
	_ = first.Update(ctx, "shared", shared)
	other := testsupport.NewPackage("shared")
	other.DeliverableUnits[0].Title = "from second"
	_ = second.Update(ctx, "shared", other)
	_ = second.Update(ctx, "deep", testsupport.NewPackage("deep"))

	reading, err := stager.NewReadingStager(writable, first, second)
	if err != nil {
		t.Fatalf("NewReadingStager: %v", err)
	}

	got, err := reading.Get(ctx, "shared")
	if err != nil {
		t.Fatalf("Get shared: %v", err)
	}
	if got.DeliverableUnits[0].Title != "from first" {
		t.Fatalf("expected first fallback to win, got %q", got.DeliverableUnits[0].Title)
	}
	if _, err := reading.Get(ctx, "deep"); err != nil {
		t.Fatalf("Get deep: %v", err)
	}

	local := testsupport.NewPackage("shared")
	local.DeliverableUnits[0].Title = "local"
	if err := reading.Update(ctx, "shared", local); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = reading.Get(ctx, "shared")
	if got.DeliverableUnits[0].Title != "local" {
		t.Fatalf("writable stager should be consulted first, got %q", got.DeliverableUnits[0].Title)
	}
	if first.Len() != 1 || second.Len() != 2 {
		t.Fatal("writes leaked into fallbacks")
	}

	if _, err := reading.Get(ctx, "missing"); !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	keys, err := reading.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if diff := cmp.Diff([]string{"deep", "shared"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveStagerPersists(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenArchive(t, cfg)

	arch, err := stager.NewArchiveStager(store, nil)
	if err != nil {
		t.Fatalf("NewArchiveStager: %v", err)
	}
	pkg := testsupport.NewPackage("")
	pkg.ID = ""
	id, err := arch.Add(ctx, pkg)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := arch.Add(ctx, &sip.Package{ID: id}); !errors.Is(err, stager.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	second, err := stager.NewArchiveStager(store, nil)
	if err != nil {
		t.Fatalf("NewArchiveStager: %v", err)
	}
	got, err := second.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := pkg.Clone()
	want.ID = id
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("archived package mismatch (-want +got):\n%s", diff)
	}

	keys, err := second.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != id {
		t.Fatalf("Keys = %v, %v", keys, err)
	}

	if err := second.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := arch.Get(ctx, id); !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestArchiveStagerConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenArchive(t, cfg)
	arch, err := stager.NewArchiveStager(store, nil)
	if err != nil {
		t.Fatalf("NewArchiveStager: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := arch.Update(ctx, "sip-c", testsupport.NewPackage("sip-c")); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := arch.Get(ctx, "sip-c"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestQueryStagerReconstructsIngestedPackage(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenArchive(t, cfg)

	pkg := testsupport.NewPackage("sip-q")
	if err := pkg.AddEvent(sip.Event{ID: "start", Type: sip.EventIngestStart, Outcome: "sip-q"}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if err := pkg.AddEvent(sip.Event{ID: "dep", Type: sip.EventDeposit, Targets: []string{"sip-q-f"}}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	targets := append(pkg.EntityIDs(), "start", "dep")
	if err := pkg.AddEvent(sip.Event{ID: "done", Type: sip.EventIngestComplete, Outcome: "sip-q", Targets: targets}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	entities, err := archive.PackageEntities(pkg)
	if err != nil {
		t.Fatalf("PackageEntities: %v", err)
	}
	if err := store.PutAll(ctx, entities); err != nil {
		t.Fatalf("PutAll: %v", err)
	}

	query, err := stager.NewQueryStager(store)
	if err != nil {
		t.Fatalf("NewQueryStager: %v", err)
	}
	got, err := query.Get(ctx, "sip-q")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(pkg, got); diff != "" {
		t.Fatalf("reconstructed package mismatch (-want +got):\n%s", diff)
	}

	keys, err := query.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "sip-q" {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
	if _, err := query.Get(ctx, "other"); !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := query.Add(ctx, pkg); !errors.Is(err, stager.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := query.Update(ctx, "sip-q", pkg); !errors.Is(err, stager.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := query.Remove(ctx, "sip-q"); !errors.Is(err, stager.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestArchiveStagerRefusesArchivedEntityIDs(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenArchive(t, cfg)
	unit, _ := archive.NewEntity(sip.KindDeliverableUnit, "du-1", sip.DeliverableUnit{ID: "du-1"})
	if err := store.Put(ctx, unit); err != nil {
		t.Fatalf("Put: %v", err)
	}

	arch, err := stager.NewArchiveStager(store, nil)
	if err != nil {
		t.Fatalf("NewArchiveStager: %v", err)
	}
	if _, err := arch.Add(ctx, testsupport.NewPackage("du-1")); !errors.Is(err, stager.ErrIDTaken) {
		t.Fatalf("Add: expected ErrIDTaken, got %v", err)
	}
	if err := arch.Update(ctx, "du-1", testsupport.NewPackage("du-1")); !errors.Is(err, stager.ErrIDTaken) {
		t.Fatalf("Update: expected ErrIDTaken, got %v", err)
	}
	cached := newCached(t, arch, 2)
	_, err = cached.Add(ctx, testsupport.NewPackage("du-1"))
	if !errors.Is(err, stager.ErrIDTaken) {
		t.Fatalf("cached Add: expected ErrIDTaken, got %v", err)
	}
	if kind := services.Kind(err); kind != "conflict" {
		t.Fatalf("Kind = %q, want conflict", kind)
	}
	if err := cached.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := store.Get(ctx, "du-1")
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.Kind != sip.KindDeliverableUnit {
		t.Fatalf("kind = %q, want %q", got.Kind, sip.KindDeliverableUnit)
	}
}

func TestSharedCachedStagerReadsAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	delegate := newRecording()
	cached, err := stager.NewCachedStager(delegate, 2, nil, stager.WithSharedDelegate())
	if err != nil {
		t.Fatalf("NewCachedStager: %v", err)
	}
	if _, err := cached.Add(ctx, testsupport.NewPackage("s")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := delegate.Get(ctx, "s"); err != nil {
		t.Fatalf("Add should reach the delegate: %v", err)
	}

	// Another writer changes the delegate behind the cache.
	changed := testsupport.NewPackage("s")
	changed.DeliverableUnits[0].Title = "changed elsewhere"
	if err := delegate.MemoryStager.Update(ctx, "s", changed); err != nil {
		t.Fatalf("delegate Update: %v", err)
	}
	got, err := cached.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DeliverableUnits[0].Title != "changed elsewhere" {
		t.Fatalf("title = %q, want the delegate's change", got.DeliverableUnits[0].Title)
	}

	got.DeliverableUnits[0].Title = "mine"
	if err := cached.Update(ctx, "s", got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n := delegate.count("s"); n != 1 {
		t.Fatalf("delegate updates = %d, want 1", n)
	}
	stored, err := delegate.Get(ctx, "s")
	if err != nil {
		t.Fatalf("delegate Get: %v", err)
	}
	if stored.DeliverableUnits[0].Title != "mine" {
		t.Fatalf("delegate title = %q, want mine", stored.DeliverableUnits[0].Title)
	}

	if err := delegate.Remove(ctx, "s"); err != nil {
		t.Fatalf("delegate Remove: %v", err)
	}
	if _, err := cached.Get(ctx, "s"); !errors.Is(err, stager.ErrNotFound) {
		t.Fatalf("expected ErrNotFound once the delegate dropped s, got %v", err)
	}
	if err := cached.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := delegate.count("s"); n != 1 {
		t.Fatalf("Flush wrote %d extra updates", n-1)
	}
}
