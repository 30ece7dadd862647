package testsupport

import (
	"testing"

	"sead/internal/archive"
	"sead/internal/config"
	"sead/internal/sip"
)

// MustOpenArchive opens an archive.Store for tests and registers cleanup.
func MustOpenArchive(t testing.TB, cfg *config.Config) *archive.Store {
	t.Helper()

	store, err := archive.Open(cfg)
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewPackage builds a small valid package with one deliverable unit, one
// manifestation and one file. Entity ids are derived from id.
func NewPackage(id string) *sip.Package {
	return &sip.Package{
		ID: id,
		DeliverableUnits: []sip.DeliverableUnit{
			{ID: id + "-du", Title: "Sample unit " + id},
		},
		Manifestations: []sip.Manifestation{
			{ID: id + "-m", DeliverableUnit: id + "-du", Type: "original", Files: []string{id + "-f"}},
		},
		Files: []sip.File{
			{ID: id + "-f", Name: "sample.txt", MimeType: "text/plain"},
		},
	}
}
