package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionDefaultsChanged is true when instructions, voice, or turn
	// detection changed. Existing voice sessions keep their settings;
	// sessions opened after the reload pick up the new values.
	SessionDefaultsChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Upstream.Instructions != new.Upstream.Instructions ||
		old.Upstream.Voice != new.Upstream.Voice ||
		old.Upstream.TurnDetection != new.Upstream.TurnDetection {
		d.SessionDefaultsChanged = true
	}

	return d
}
