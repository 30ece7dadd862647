package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Lock backends understood by the lock manager.
const (
	LockBackendMemory = "memory"
	LockBackendFile   = "file"
)

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	ArchiveDir string `toml:"archive_dir"`
	LogDir     string `toml:"log_dir"`
	LockDir    string `toml:"lock_dir"`
}

// Staging contains configuration for staged packages and uploaded content.
type Staging struct {
	// CacheCapacity bounds the number of SIPs held in the write-back cache.
	CacheCapacity int `toml:"cache_capacity"`
	// FreeSpaceFloor is the minimum free-space ratio required before new
	// uploads are accepted (0 disables the check).
	FreeSpaceFloor float64 `toml:"free_space_floor"`
	// StaleHours is the age after which abandoned staging directories are
	// removed by `sead staging clean`.
	StaleHours int `toml:"stale_hours"`
}

// Fixity contains configuration for checksum computation on upload.
type Fixity struct {
	Enabled    bool     `toml:"enabled"`
	Algorithms []string `toml:"algorithms"`
}

// Locks contains configuration for ingest critical sections.
type Locks struct {
	Backend          string `toml:"backend"`
	PollIntervalMsec int    `toml:"poll_interval_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for SEAD.
//
// Configuration sections by subsystem:
//   - Paths: staging, archive, log, and lock directories
//   - Staging: SIP cache size, free-space floor, stale cleanup age
//   - Fixity: digest algorithms computed during upload
//   - Locks: lock backend (memory or file) and file-lock polling
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Staging Staging `toml:"staging"`
	Fixity  Fixity  `toml:"fixity"`
	Locks   Locks   `toml:"locks"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sead/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("sead.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for ingest operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StagingDir, c.Paths.ArchiveDir, c.ArchiveContentDir(), c.Paths.LogDir}
	if c.Locks.Backend == LockBackendFile {
		dirs = append(dirs, c.Paths.LockDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArchiveDatabasePath returns the SQLite database holding archived entities.
func (c *Config) ArchiveDatabasePath() string {
	return filepath.Join(c.Paths.ArchiveDir, defaultArchiveDatabaseName)
}

// ArchiveContentDir returns the directory that receives archived file content.
func (c *Config) ArchiveContentDir() string {
	return filepath.Join(c.Paths.ArchiveDir, defaultArchiveContentSubdir)
}

// LockPollInterval returns the file-lock polling interval.
func (c *Config) LockPollInterval() time.Duration {
	return time.Duration(c.Locks.PollIntervalMsec) * time.Millisecond
}

// StaleAge returns the age after which staging directories count as abandoned.
func (c *Config) StaleAge() time.Duration {
	return time.Duration(c.Staging.StaleHours) * time.Hour
}

// FixityAlgorithms returns the digest algorithms computed on upload, or nil
// when fixity checking is disabled.
func (c *Config) FixityAlgorithms() []string {
	if !c.Fixity.Enabled {
		return nil
	}
	out := make([]string, len(c.Fixity.Algorithms))
	copy(out, c.Fixity.Algorithms)
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
