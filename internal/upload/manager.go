// Package upload stages uploaded file content for a submission package and
// records the deposit in the package's provenance.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sead/internal/events"
	"sead/internal/fixity"
	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/sip"
	"sead/internal/staging"
)

// Request describes one uploaded file.
type Request struct {
	SIPID    string
	Name     string
	MimeType string
	// Manifestation optionally names the manifestation the file joins.
	Manifestation string
	// Declared digests are checked against the computed values.
	Declared []sip.Fixity
	Body     io.Reader
}

// Result reports what an upload produced.
type Result struct {
	File   sip.File
	Staged *staging.StagedFile
	Events []sip.Event
	// Skipped lists requested digest algorithms that are not supported.
	Skipped []string
}

// Manager stages uploads and records their events.
type Manager struct {
	content    *staging.DirStager
	events     *events.Manager
	algorithms []string
	logger     *slog.Logger
}

// NewManager returns an upload manager. algorithms are the digests computed
// for every upload; nil disables fixity events.
func NewManager(content *staging.DirStager, ev *events.Manager, algorithms []string, logger *slog.Logger) (*Manager, error) {
	if content == nil {
		return nil, errors.New("upload: content stager is nil")
	}
	if ev == nil {
		return nil, errors.New("upload: event manager is nil")
	}
	return &Manager{
		content:    content,
		events:     ev,
		algorithms: append([]string(nil), algorithms...),
		logger:     logging.NewComponentLogger(logger, "upload"),
	}, nil
}

// Upload stages req.Body, verifies declared digests and appends the new file
// plus its deposit, upload and fixity events to the staged package. Nothing
// is left staged when it fails.
func (m *Manager) Upload(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(req.SIPID) == "" {
		return nil, services.Wrap(services.ErrValidation, "upload", "validate request", "sip id is empty", nil)
	}
	if req.Body == nil {
		return nil, services.Wrap(services.ErrValidation, "upload", "validate request", "body is nil", nil)
	}
	ctx = services.WithStage(services.WithSIPID(ctx, req.SIPID), "upload")
	logger := logging.WithContext(ctx, m.logger)

	requested := append([]string(nil), m.algorithms...)
	for _, fx := range req.Declared {
		requested = append(requested, fx.Algorithm)
	}
	digests, skipped := fixity.NewDigestReader(req.Body, requested...)
	for _, name := range skipped {
		logging.WarnWithContext(ctx, m.logger, "digest algorithm not supported", "fixity_unsupported",
			logging.String("algorithm", name),
			logging.String(logging.FieldErrorHint, "supported algorithms: "+strings.Join(fixity.Supported(), ", ")),
			logging.String(logging.FieldImpact, "no digest recorded for this algorithm"),
		)
	}

	staged, err := m.content.Add(ctx, req.SIPID, req.Name, digests)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}
	discard := func() {
		if err := m.content.Remove(ctx, staged.ID); err != nil {
			logging.WarnWithContext(ctx, m.logger, "failed to remove staged content", "staging_cleanup_failed",
				logging.String("staged_id", staged.ID),
				logging.Error(err),
			)
		}
	}

	sums := digests.Sums()
	if err := fixity.Verify(req.Declared, sums); err != nil {
		discard()
		logging.WarnWithContext(ctx, m.logger, "upload rejected", "fixity_mismatch",
			logging.String("name", staged.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-send the file or correct the declared digest"),
			logging.String(logging.FieldImpact, "file not added to the package"),
		)
		return nil, err
	}

	file := sip.File{
		ID:       uuid.NewString(),
		Name:     staged.Name,
		Source:   staged.AccessURI,
		MimeType: strings.TrimSpace(req.MimeType),
		Size:     staged.Size,
		Extant:   true,
		Fixity:   sums,
	}
	emitted := m.buildEvents(file, staged, sums)

	err = m.events.Update(ctx, req.SIPID, func(pkg *sip.Package) error {
		if pkg.HasEntity(file.ID) {
			return fmt.Errorf("%w: file id %s already in package", services.ErrConflict, file.ID)
		}
		if req.Manifestation != "" {
			var target *sip.Manifestation
			for i := range pkg.Manifestations {
				if pkg.Manifestations[i].ID == req.Manifestation {
					target = &pkg.Manifestations[i]
					break
				}
			}
			if target == nil {
				return services.Wrap(services.ErrValidation, "upload", "attach file", "unknown manifestation "+req.Manifestation, nil)
			}
			target.Files = append(target.Files, file.ID)
		}
		pkg.Files = append(pkg.Files, file)
		for _, ev := range emitted {
			if err := pkg.AddEvent(ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		discard()
		return nil, fmt.Errorf("record upload: %w", err)
	}

	logger.Info("file uploaded",
		logging.String("file_id", file.ID),
		logging.String("name", file.Name),
		logging.Int64("size", file.Size),
		logging.Int("events", len(emitted)),
	)
	return &Result{File: file, Staged: staged, Events: emitted, Skipped: skipped}, nil
}

// buildEvents creates one deposit, one upload and one fixity event per
// configured algorithm that was computed.
func (m *Manager) buildEvents(file sip.File, staged *staging.StagedFile, sums []sip.Fixity) []sip.Event {
	deposit := m.events.NewEvent(sip.EventDeposit)
	deposit.Outcome = staged.ReferenceURI
	deposit.Detail = "deposited " + file.Name
	deposit.Targets = []string{file.ID}

	uploaded := m.events.NewEvent(sip.EventFileUpload)
	uploaded.Outcome = staged.AccessURI
	uploaded.Detail = fmt.Sprintf("uploaded %d bytes", file.Size)
	uploaded.Targets = []string{file.ID}

	out := []sip.Event{deposit, uploaded}
	if len(m.algorithms) == 0 {
		return out
	}
	byAlg := make(map[string]string, len(sums))
	for _, fx := range sums {
		byAlg[fx.Algorithm] = fx.Value
	}
	seen := make(map[string]struct{}, len(m.algorithms))
	for _, name := range m.algorithms {
		canonical, ok := fixity.Canonical(name)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		ev := m.events.NewEvent(sip.EventFixityDigest)
		ev.Outcome = byAlg[canonical]
		ev.Detail = canonical
		ev.Targets = []string{file.ID}
		out = append(out, ev)
	}
	return out
}
