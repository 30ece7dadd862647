package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStaging(); err != nil {
		return err
	}
	if err := c.validateFixity(); err != nil {
		return err
	}
	if err := c.validateLocks(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.ArchiveDir) == "" {
		return errors.New("paths.archive_dir must be set")
	}
	if c.Paths.StagingDir == c.Paths.ArchiveDir {
		return errors.New("paths.staging_dir and paths.archive_dir must differ")
	}
	return nil
}

func (c *Config) validateStaging() error {
	if c.Staging.CacheCapacity < 0 {
		return errors.New("staging.cache_capacity must be zero or positive")
	}
	if c.Staging.FreeSpaceFloor < 0 || c.Staging.FreeSpaceFloor >= 1 {
		return errors.New("staging.free_space_floor must be between 0 and 1")
	}
	if c.Staging.StaleHours < 0 {
		return errors.New("staging.stale_hours must be positive")
	}
	return nil
}

func (c *Config) validateFixity() error {
	if c.Fixity.Enabled && len(c.Fixity.Algorithms) == 0 {
		return errors.New("fixity.algorithms must list at least one algorithm when fixity is enabled")
	}
	return nil
}

func (c *Config) validateLocks() error {
	switch c.Locks.Backend {
	case LockBackendMemory, LockBackendFile:
	default:
		return fmt.Errorf("locks.backend: unsupported value %q (expected %q or %q)", c.Locks.Backend, LockBackendMemory, LockBackendFile)
	}
	if c.Locks.PollIntervalMsec < 0 {
		return errors.New("locks.poll_interval_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
