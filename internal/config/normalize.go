package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStaging()
	c.normalizeFixity()
	c.normalizeLocks()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	envFallback(&c.Paths.StagingDir, "SEAD_STAGING_DIR", defaultStagingDir)
	envFallback(&c.Paths.ArchiveDir, "SEAD_ARCHIVE_DIR", defaultArchiveDir)
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Paths.LockDir) == "" {
		c.Paths.LockDir = defaultLockDir
	}

	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.LockDir, err = expandPath(c.Paths.LockDir); err != nil {
		return fmt.Errorf("paths.lock_dir: %w", err)
	}
	return nil
}

// envFallback replaces value with the environment variable when the value was
// left at its default or is empty.
func envFallback(value *string, env, def string) {
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" || trimmed == def {
		if fromEnv, ok := os.LookupEnv(env); ok && strings.TrimSpace(fromEnv) != "" {
			*value = strings.TrimSpace(fromEnv)
			return
		}
	}
	if trimmed == "" {
		*value = def
	}
}

func (c *Config) normalizeStaging() {
	if c.Staging.CacheCapacity == 0 {
		c.Staging.CacheCapacity = defaultCacheCapacity
	}
	if c.Staging.StaleHours == 0 {
		c.Staging.StaleHours = defaultStaleHours
	}
}

func (c *Config) normalizeFixity() {
	seen := make(map[string]struct{}, len(c.Fixity.Algorithms))
	algorithms := make([]string, 0, len(c.Fixity.Algorithms))
	for _, alg := range c.Fixity.Algorithms {
		normalized := strings.ToUpper(strings.TrimSpace(alg))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		algorithms = append(algorithms, normalized)
	}
	c.Fixity.Algorithms = algorithms
}

func (c *Config) normalizeLocks() {
	c.Locks.Backend = strings.ToLower(strings.TrimSpace(c.Locks.Backend))
	if c.Locks.Backend == "" {
		c.Locks.Backend = defaultLockBackend
	}
	if c.Locks.PollIntervalMsec == 0 {
		c.Locks.PollIntervalMsec = defaultLockPollMillis
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
