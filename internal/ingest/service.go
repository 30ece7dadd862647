// Package ingest moves a staged submission package into the archive.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"sead/internal/archive"
	"sead/internal/events"
	"sead/internal/fileutil"
	"sead/internal/lockmgr"
	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/sip"
	"sead/internal/stager"
	"sead/internal/staging"
	"sead/internal/textutil"
)

// ErrAlreadyIngested is returned for packages the archive already holds.
var ErrAlreadyIngested = fmt.Errorf("sip already ingested: %w", services.ErrConflict)

// Result summarizes a completed ingest.
type Result struct {
	SIPID    string
	Entities int
	Files    int
	Bytes    int64
	Event    sip.Event
}

// Service archives staged packages. Each Ingest call runs as its own lock
// session so concurrent calls for one package run the critical section at
// most once.
type Service struct {
	store      *archive.Store
	stager     stager.Stager
	content    *staging.DirStager
	events     *events.Manager
	locker     lockmgr.Locker
	contentDir string
	logger     *slog.Logger
}

// Config wires a Service.
type Config struct {
	Store   *archive.Store
	Stager  stager.Stager
	Content *staging.DirStager
	Events  *events.Manager
	// Locker must be the locker shared with Events.
	Locker     lockmgr.Locker
	ContentDir string
	Logger     *slog.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("ingest: archive store is nil")
	case cfg.Stager == nil:
		return nil, errors.New("ingest: stager is nil")
	case cfg.Content == nil:
		return nil, errors.New("ingest: content stager is nil")
	case cfg.Events == nil:
		return nil, errors.New("ingest: event manager is nil")
	case cfg.Locker == nil:
		return nil, errors.New("ingest: locker is nil")
	case strings.TrimSpace(cfg.ContentDir) == "":
		return nil, errors.New("ingest: content directory is empty")
	}
	return &Service{
		store:      cfg.Store,
		stager:     cfg.Stager,
		content:    cfg.Content,
		events:     cfg.Events,
		locker:     cfg.Locker,
		contentDir: cfg.ContentDir,
		logger:     logging.NewComponentLogger(cfg.Logger, "ingest"),
	}, nil
}

// Ingest archives the staged package sipID. On failure an ingest.fail event
// is recorded and the package stays staged for another attempt.
func (s *Service) Ingest(ctx context.Context, sipID string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(sipID) == "" {
		return nil, services.Wrap(services.ErrValidation, "ingest", "validate", "sip id is empty", nil)
	}
	ctx = services.WithStage(services.WithSIPID(ctx, sipID), "ingest")
	logger := logging.WithContext(ctx, s.logger)

	session := lockmgr.NewManager(s.locker, s.logger)
	defer func() {
		if err := session.Close(); err != nil {
			logging.WarnWithContext(ctx, s.logger, "failed to release ingest locks", "lock_release_failed", logging.Error(err))
		}
	}()
	if _, err := session.ObtainLock(ctx, "ingest:"+sipID, "ingest"); err != nil {
		return nil, err
	}

	done, err := s.ingested(ctx, sipID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyIngested, sipID)
	}

	start := s.events.NewEvent(sip.EventIngestStart)
	start.Outcome = sipID
	if err := s.events.AddEvent(ctx, sipID, start); err != nil {
		return nil, fmt.Errorf("record ingest start: %w", err)
	}
	logger.Info("ingest started")

	var result *Result
	err = s.events.View(ctx, sipID, func(pkg *sip.Package) error {
		var archiveErr error
		result, archiveErr = s.archive(ctx, pkg)
		return archiveErr
	})
	if err != nil {
		s.recordFailure(ctx, sipID, err)
		return nil, err
	}

	logger.Info("ingest complete",
		logging.Int("entities", result.Entities),
		logging.Int("files", result.Files),
		logging.Int64("bytes", result.Bytes),
	)
	return result, nil
}

// Ingested reports whether the archive already holds sipID.
func (s *Service) Ingested(ctx context.Context, sipID string) (bool, error) {
	return s.ingested(ctx, sipID)
}

func (s *Service) ingested(ctx context.Context, sipID string) (bool, error) {
	found, err := s.store.FindEvents(ctx, archive.EventQuery{Type: sip.EventIngestComplete, Outcome: sipID})
	if err != nil {
		return false, fmt.Errorf("check archive index: %w", err)
	}
	return len(found) > 0, nil
}

// archive copies content, stores every entity with the completion event in
// one transaction, then drops the staged package and bytes. Callers hold
// the package lock.
func (s *Service) archive(ctx context.Context, pkg *sip.Package) (*Result, error) {
	if err := pkg.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "ingest", "validate package", pkg.ID, err)
	}
	if pkg.HasEntity(pkg.ID) {
		return nil, services.Wrap(services.ErrValidation, "ingest", "validate package", pkg.ID, errors.New("an entity reuses the package id"))
	}
	pkg = pkg.Clone()

	var (
		copied []string
		total  int64
	)
	cleanup := func() {
		for _, path := range copied {
			_ = os.Remove(path)
		}
	}
	for i := range pkg.Files {
		file := &pkg.Files[i]
		src, ok := localPath(file.Source)
		if !ok {
			continue
		}
		dst := filepath.Join(s.contentDir, textutil.PathKey(pkg.ID), textutil.PathKey(file.ID))
		if _, err := fileutil.CopyFileVerified(src, dst); err != nil {
			cleanup()
			return nil, fmt.Errorf("archive content of %s: %w", file.ID, err)
		}
		copied = append(copied, dst)
		file.Source = (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String()
		total += file.Size
	}

	complete := s.events.NewEvent(sip.EventIngestComplete)
	complete.Outcome = pkg.ID
	complete.Detail = fmt.Sprintf("archived %d entities", len(pkg.EntityIDs()))
	complete.Targets = packageTargets(pkg)
	if err := pkg.AddEvent(complete); err != nil {
		cleanup()
		return nil, err
	}

	entities, err := archive.PackageEntities(pkg)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := s.store.InsertAll(ctx, entities); err != nil {
		cleanup()
		return nil, fmt.Errorf("archive entities: %w", err)
	}

	if err := s.stager.Remove(ctx, pkg.ID); err != nil {
		logging.WarnWithContext(ctx, s.logger, "failed to remove staged package", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "archived package still listed as staged"),
		)
	}
	if err := s.content.RemoveSIP(ctx, pkg.ID); err != nil {
		logging.WarnWithContext(ctx, s.logger, "failed to remove staged content", "staging_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "disk space not reclaimed until staging clean runs"),
		)
	}

	return &Result{
		SIPID:    pkg.ID,
		Entities: len(entities),
		Files:    len(copied),
		Bytes:    total,
		Event:    complete,
	}, nil
}

func (s *Service) recordFailure(ctx context.Context, sipID string, cause error) {
	fail := s.events.NewEvent(sip.EventIngestFail)
	fail.Outcome = services.Kind(cause)
	fail.Detail = cause.Error()
	if err := s.events.AddEvent(ctx, sipID, fail); err != nil {
		logging.WarnWithContext(ctx, s.logger, "failed to record ingest failure", "ingest_fail_unrecorded",
			logging.Error(err),
		)
	}
	logging.ErrorWithContext(ctx, s.logger, "ingest failed", "ingest_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "fix the cause and re-run sead ingest"),
	)
}

// packageTargets lists every entity and event of pkg so the completion event
// reaches the whole package, including events that target nothing.
func packageTargets(pkg *sip.Package) []string {
	targets := pkg.EntityIDs()
	for _, ev := range pkg.Events {
		targets = append(targets, ev.ID)
	}
	return targets
}

// localPath returns the filesystem path behind a file:// source.
func localPath(source string) (string, bool) {
	if !strings.HasPrefix(source, "file://") {
		return "", false
	}
	u, err := url.Parse(source)
	if err != nil || u.Path == "" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
