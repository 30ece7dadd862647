package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"sead/internal/fileutil"
	"sead/internal/logging"
	"sead/internal/services"
	"sead/internal/textutil"
)

// ReferencePrefix prefixes the stable reference URI of a staged file.
const ReferencePrefix = "urn:sead:staged:"

const sidecarExt = ".json"

var (
	// ErrNotFound is returned for unknown staged file ids.
	ErrNotFound = fmt.Errorf("staged file %w", services.ErrNotFound)
	// ErrInsufficientSpace is returned when the staging filesystem is below
	// its free-space floor.
	ErrInsufficientSpace = errors.New("insufficient free space for staging")
)

// StagedFile describes uploaded bytes held for a SIP.
type StagedFile struct {
	ID           string    `json:"id"`
	SIPRef       string    `json:"sip_ref"`
	Name         string    `json:"name"`
	AccessURI    string    `json:"access_uri"`
	ReferenceURI string    `json:"reference_uri"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// DirStager stores staged content on the local filesystem.
type DirStager struct {
	root   string
	floor  float64
	statfs statfsFunc
	logger *slog.Logger
}

// Option customizes a DirStager.
type Option func(*DirStager)

// WithStatfs replaces the filesystem statistics source.
func WithStatfs(fn func(path string) (uint64, uint64, error)) Option {
	return func(s *DirStager) {
		if fn != nil {
			s.statfs = fn
		}
	}
}

// NewDirStager creates the staging root if needed. freeSpaceFloor is the
// minimum free/total ratio required to accept new content; zero disables the
// check.
func NewDirStager(root string, freeSpaceFloor float64, logger *slog.Logger, opts ...Option) (*DirStager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("staging: root directory is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create root: %w", err)
	}
	s := &DirStager{
		root:   root,
		floor:  freeSpaceFloor,
		statfs: realStatfs,
		logger: logging.NewComponentLogger(logger, "staging"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the staging root directory.
func (s *DirStager) Root() string { return s.root }

// SIPDir returns the directory holding content staged for sipRef.
func (s *DirStager) SIPDir(sipRef string) string {
	return filepath.Join(s.root, textutil.PathKey(sipRef))
}

// Add streams r into a new staged file belonging to sipRef.
func (s *DirStager) Add(ctx context.Context, sipRef, name string, r io.Reader) (*StagedFile, error) {
	if strings.TrimSpace(sipRef) == "" {
		return nil, services.Wrap(services.ErrValidation, "staging", "add", "sip reference is empty", nil)
	}
	if r == nil {
		return nil, services.Wrap(services.ErrValidation, "staging", "add", "content reader is nil", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.checkFreeSpace(); err != nil {
		return nil, err
	}

	dir := s.SIPDir(sipRef)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create sip dir: %w", err)
	}

	id := uuid.NewString()
	dataPath := filepath.Join(dir, id)
	partial := filepath.Join(dir, "."+id+".partial")
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("staging: create file: %w", err)
	}
	written, copyErr := io.Copy(out, contextReader{ctx: ctx, r: r})
	if syncErr := out.Sync(); copyErr == nil {
		copyErr = syncErr
	}
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("staging: write content: %w", copyErr)
	}
	if err := os.Rename(partial, dataPath); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("staging: finalize content: %w", err)
	}

	staged := &StagedFile{
		ID:           id,
		SIPRef:       sipRef,
		Name:         textutil.SanitizeFileName(name),
		AccessURI:    (&url.URL{Scheme: "file", Path: filepath.ToSlash(dataPath)}).String(),
		ReferenceURI: ReferencePrefix + id,
		Path:         dataPath,
		Size:         written,
		CreatedAt:    time.Now().UTC(),
	}
	if staged.Name == "" {
		staged.Name = id
	}
	payload, err := json.Marshal(staged)
	if err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("staging: encode sidecar: %w", err)
	}
	if err := fileutil.WriteFileAtomic(dataPath+sidecarExt, payload, 0o644); err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("staging: write sidecar: %w", err)
	}

	logging.WithContext(ctx, s.logger).Debug("staged file",
		logging.String("staged_id", id),
		logging.String("name", staged.Name),
		logging.Int64("size", written),
	)
	return staged, nil
}

// Get returns the staged file identified by id or its reference URI.
func (s *DirStager) Get(ctx context.Context, ref string) (*StagedFile, error) {
	id, ok := ParseReference(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", id+sidecarExt))
	if err != nil {
		return nil, fmt.Errorf("staging: locate %s: %w", id, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return readSidecar(matches[0])
}

// Open returns a reader over the staged content.
func (s *DirStager) Open(ctx context.Context, ref string) (io.ReadCloser, *StagedFile, error) {
	staged, err := s.Get(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(staged.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, nil, fmt.Errorf("staging: open %s: %w", staged.ID, err)
	}
	return f, staged, nil
}

// Remove deletes a staged file and its sidecar.
func (s *DirStager) Remove(ctx context.Context, ref string) error {
	staged, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := os.Remove(staged.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove %s: %w", staged.ID, err)
	}
	if err := os.Remove(staged.Path + sidecarExt); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("staging: remove sidecar %s: %w", staged.ID, err)
	}
	logging.WithContext(ctx, s.logger).Debug("removed staged file", logging.String("staged_id", staged.ID))
	return nil
}

// RemoveSIP deletes everything staged for sipRef.
func (s *DirStager) RemoveSIP(ctx context.Context, sipRef string) error {
	if strings.TrimSpace(sipRef) == "" {
		return nil
	}
	dir := s.SIPDir(sipRef)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("staging: remove sip dir: %w", err)
	}
	logging.WithContext(ctx, s.logger).Debug("removed staged sip content", logging.String("path", dir))
	return nil
}

// List returns the files staged for sipRef, oldest first.
func (s *DirStager) List(ctx context.Context, sipRef string) ([]*StagedFile, error) {
	matches, err := filepath.Glob(filepath.Join(s.SIPDir(sipRef), "*"+sidecarExt))
	if err != nil {
		return nil, fmt.Errorf("staging: list: %w", err)
	}
	files := make([]*StagedFile, 0, len(matches))
	for _, path := range matches {
		if strings.HasPrefix(filepath.Base(path), ".") {
			continue
		}
		staged, err := readSidecar(path)
		if err != nil {
			return nil, err
		}
		files = append(files, staged)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

// ParseReference extracts the staged file id from an id, a reference URI, or
// an access URI.
func ParseReference(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, ReferencePrefix):
		ref = strings.TrimPrefix(ref, ReferencePrefix)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		ref = filepath.Base(filepath.FromSlash(u.Path))
	}
	if _, err := uuid.Parse(ref); err != nil {
		return "", false
	}
	return ref, true
}

// FreeSpace reports the total and available bytes of the filesystem holding
// the staging root.
func (s *DirStager) FreeSpace() (total, free uint64, err error) {
	return s.statfs(s.root)
}

// FreeSpaceFloor returns the minimum free-space ratio uploads require.
func (s *DirStager) FreeSpaceFloor() float64 { return s.floor }

func (s *DirStager) checkFreeSpace() error {
	if s.floor <= 0 {
		return nil
	}
	total, free, err := s.statfs(s.root)
	if err != nil {
		return fmt.Errorf("staging: statfs: %w", err)
	}
	if total == 0 {
		return nil
	}
	ratio := float64(free) / float64(total)
	if ratio < s.floor {
		s.logger.Warn("staging refused upload",
			logging.Any("free_ratio", ratio),
			logging.Any("floor", s.floor),
			logging.String(logging.FieldEventType, "staging_space_low"),
			logging.String(logging.FieldErrorHint, "free disk space or lower staging.free_space_floor"),
			logging.String(logging.FieldImpact, "uploads rejected until space is available"),
		)
		return fmt.Errorf("%w: %.1f%% free, floor %.1f%%", ErrInsufficientSpace, ratio*100, s.floor*100)
	}
	return nil
}

func readSidecar(path string) (*StagedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, fmt.Errorf("staging: read sidecar: %w", err)
	}
	var staged StagedFile
	if err := json.Unmarshal(data, &staged); err != nil {
		return nil, fmt.Errorf("staging: decode sidecar %s: %w", filepath.Base(path), err)
	}
	return &staged, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
