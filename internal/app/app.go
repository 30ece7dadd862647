// Package app assembles the SEAD ingest stack from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sead/internal/archive"
	"sead/internal/config"
	"sead/internal/events"
	"sead/internal/ingest"
	"sead/internal/lockmgr"
	"sead/internal/logging"
	"sead/internal/stager"
	"sead/internal/staging"
	"sead/internal/upload"
)

// App holds the wired components for one process.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *archive.Store
	Locker  lockmgr.Locker
	Cache   *stager.CachedStager
	Stager  *stager.ReadingStager
	Content *staging.DirStager
	Events  *events.Manager
	Uploads *upload.Manager
	Ingest  *ingest.Service
}

// Open builds every component described by cfg. Close must be called to
// flush cached packages.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := archive.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, Store: store}
	if err := a.wire(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	var cacheOpts []stager.CacheOption
	switch cfg.Locks.Backend {
	case config.LockBackendFile:
		locker, err := lockmgr.NewFileLocker(cfg.Paths.LockDir, cfg.LockPollInterval())
		if err != nil {
			return fmt.Errorf("file locker: %w", err)
		}
		a.Locker = locker
		// Other processes stage into the same archive under these locks.
		cacheOpts = append(cacheOpts, stager.WithSharedDelegate())
	default:
		a.Locker = lockmgr.NewMemoryLocker()
	}

	durable, err := stager.NewArchiveStager(a.Store, a.Locker)
	if err != nil {
		return err
	}
	a.Cache, err = stager.NewCachedStager(durable, cfg.Staging.CacheCapacity, a.Logger, cacheOpts...)
	if err != nil {
		return err
	}
	archived, err := stager.NewQueryStager(a.Store)
	if err != nil {
		return err
	}
	a.Stager, err = stager.NewReadingStager(a.Cache, archived)
	if err != nil {
		return err
	}

	a.Content, err = staging.NewDirStager(cfg.Paths.StagingDir, cfg.Staging.FreeSpaceFloor, a.Logger)
	if err != nil {
		return fmt.Errorf("content stager: %w", err)
	}
	a.Events, err = events.NewManager(a.Stager, a.Locker, a.Logger)
	if err != nil {
		return err
	}
	a.Uploads, err = upload.NewManager(a.Content, a.Events, cfg.FixityAlgorithms(), a.Logger)
	if err != nil {
		return err
	}
	a.Ingest, err = ingest.NewService(ingest.Config{
		Store:      a.Store,
		Stager:     a.Cache,
		Content:    a.Content,
		Events:     a.Events,
		Locker:     a.Locker,
		ContentDir: cfg.ArchiveContentDir(),
		Logger:     a.Logger,
	})
	return err
}

// Close writes back cached packages and closes the archive.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Cache != nil {
		if err := a.Cache.Flush(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("flush staged packages: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}
