package redolog

// Config mirrors spec.md §6's redo_log configuration sub-object.
// MaxEntriesPerFile, MaxSizePerFileBytes, and MaxFilesPerLog each treat
// zero as "unlimited" per spec.md:164, not "unset" — withDefaults only
// fills in MinAvailableDiskSpaceMB, which has no unlimited sense. The
// 1024 default for MaxEntriesPerFile an operator gets by leaving it
// unconfigured is applied once, at the config-merge layer
// (config.Config.applyDefaults), before a Config ever reaches here, so
// an explicit 0 surviving to Open/maybeRotate/evictOldestFiles always
// means "unlimited", never "fall back to the default".
type Config struct {
	MaxEntriesPerFile       int
	MaxSizePerFileBytes     int64
	MaxFilesPerLog          int
	FlushAfterWrite         bool
	AutomaticRecovery       bool
	WriteEncryptedValues    bool
	MinAvailableDiskSpaceMB int64
}

// DefaultConfig matches the broker reference client's defaults closely
// enough that an operator who never sets redo_log gets sane behavior.
// MaxSizePerFileBytes and MaxFilesPerLog default to 0 (unlimited) per
// spec.md:164; only MaxEntriesPerFile has a bounded default.
func DefaultConfig() Config {
	return Config{
		MaxEntriesPerFile:       1024,
		MaxSizePerFileBytes:     0,
		MaxFilesPerLog:          0,
		FlushAfterWrite:         true,
		AutomaticRecovery:       true,
		WriteEncryptedValues:    true,
		MinAvailableDiskSpaceMB: 64,
	}
}

func (c Config) withDefaults() Config {
	if c.MinAvailableDiskSpaceMB <= 0 {
		c.MinAvailableDiskSpaceMB = DefaultConfig().MinAvailableDiskSpaceMB
	}
	return c
}
