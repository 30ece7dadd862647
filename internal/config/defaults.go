package config

const (
	defaultStagingDir           = "~/.local/share/sead/staging"
	defaultArchiveDir           = "~/.local/share/sead/archive"
	defaultLogDir               = "~/.local/share/sead/logs"
	defaultLockDir              = "~/.local/share/sead/locks"
	defaultCacheCapacity        = 64
	defaultFreeSpaceFloor       = 0.05
	defaultStaleHours           = 72
	defaultLockBackend          = LockBackendMemory
	defaultLockPollMillis       = 50
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultArchiveDatabaseName  = "archive.db"
	defaultArchiveContentSubdir = "content"
)

var defaultFixityAlgorithms = []string{"MD5", "SHA-256"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	algorithms := make([]string, len(defaultFixityAlgorithms))
	copy(algorithms, defaultFixityAlgorithms)
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
			LockDir:    defaultLockDir,
		},
		Staging: Staging{
			CacheCapacity:  defaultCacheCapacity,
			FreeSpaceFloor: defaultFreeSpaceFloor,
			StaleHours:     defaultStaleHours,
		},
		Fixity: Fixity{
			Enabled:    true,
			Algorithms: algorithms,
		},
		Locks: Locks{
			Backend:          defaultLockBackend,
			PollIntervalMsec: defaultLockPollMillis,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
