package ingest

import "time"

// Config controls how the source directory is watched once the first
// reconciliation has finished.
type Config struct {
	// Changes to the source tree usually arrive in bursts (a directory
	// copied in, a sidecar edited next to its video). A run is only
	// started once no change has been seen for this long.
	DebounceSeconds int `yaml:"debounce_seconds" env:"WATCH_DEBOUNCE_SECONDS" env-default:"10" validate:"gte=0"`

	// The watcher can miss events (network mounts, overflowing queues),
	// so a full run is also performed on a regular interval.
	ForceSyncSeconds int `yaml:"force_sync_seconds" env:"WATCH_FORCE_SYNC_SECONDS" env-default:"3600" validate:"gt=0"`
}

func (config *Config) DebounceDuration() time.Duration {
	return time.Duration(config.DebounceSeconds) * time.Second
}

func (config *Config) ForceSyncDuration() time.Duration {
	return time.Duration(config.ForceSyncSeconds) * time.Second
}
