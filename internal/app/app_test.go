package app_test

import (
	"context"
	"strings"
	"testing"

	"sead/internal/app"
	"sead/internal/lockmgr"
	"sead/internal/logging"
	"sead/internal/sip"
	"sead/internal/testsupport"
	"sead/internal/upload"
)

func TestCloseFlushesCachedPackages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := app.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := first.Stager.Add(ctx, testsupport.NewPackage("sip-1")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ev := first.Events.NewEvent(sip.EventDeposit)
	if err := first.Events.AddEvent(ctx, "sip-1", ev); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := app.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	got, err := second.Events.Event(ctx, "sip-1", ev.ID)
	if err != nil {
		t.Fatalf("Event after reopen: %v", err)
	}
	if got.Type != sip.EventDeposit {
		t.Fatalf("event type = %q", got.Type)
	}
}

func TestOpenSelectsFileLocker(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFileLocks())
	a, err := app.Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()
	if _, ok := a.Locker.(*lockmgr.FileLocker); !ok {
		t.Fatalf("locker = %T, want *lockmgr.FileLocker", a.Locker)
	}
	if err := a.Locker.Lock(context.Background(), "probe"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := a.Locker.Unlock("probe"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if got := a.Cache.Stats().Capacity; got != cfg.Staging.CacheCapacity {
		t.Fatalf("cache capacity = %d, want %d", got, cfg.Staging.CacheCapacity)
	}
}

func TestOpenRejectsNilConfig(t *testing.T) {
	if _, err := app.Open(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestFileLockedAppsShareStagedPackages(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFileLocks())
	ctx := context.Background()

	first, err := app.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open first: %v", err)
	}
	second, err := app.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	if !first.Cache.Shared() {
		t.Fatal("file lock backend should share the staged package store")
	}

	if _, err := first.Stager.Add(ctx, testsupport.NewPackage("s")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for i, a := range []*app.App{first, second} {
		if _, err := a.Uploads.Upload(ctx, upload.Request{
			SIPID:         "s",
			Name:          "part.txt",
			MimeType:      "text/plain",
			Manifestation: "s-m",
			Body:          strings.NewReader(strings.Repeat("x", i+1)),
		}); err != nil {
			t.Fatalf("Upload %d: %v", i, err)
		}
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close first: %v", err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close second: %v", err)
	}

	reopened, err := app.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	pkg, err := reopened.Stager.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := len(pkg.Files); got != 3 {
		t.Fatalf("files after uploads from two apps = %d, want 3", got)
	}
	deposits := pkg.EventsOfType(sip.EventDeposit)
	if len(deposits) != 2 {
		t.Fatalf("deposit events = %d, want 2", len(deposits))
	}
}
