package testsupport

import (
	"path/filepath"
	"testing"

	"sead/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.LockDir = filepath.Join(base, "locks")
	cfgVal.Staging.FreeSpaceFloor = 0
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithCacheCapacity overrides the staged SIP cache size.
func WithCacheCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Staging.CacheCapacity = capacity
	}
}

// WithFixity sets the digest algorithms; no algorithms disables fixity.
func WithFixity(algorithms ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fixity.Enabled = len(algorithms) > 0
		b.cfg.Fixity.Algorithms = algorithms
	}
}

// WithFileLocks switches the lock backend to per-key lock files.
func WithFileLocks() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Locks.Backend = config.LockBackendFile
		b.cfg.Locks.PollIntervalMsec = 5
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
