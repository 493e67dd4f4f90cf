package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and playback volume can be applied without a restart;
// every other change is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VolumeChanged bool
	NewVolume     float32

	// RestartRequired names the top-level sections (e.g. "audio",
	// "transport") whose changes only take effect after a restart.
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VolumeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Volume
	if old.Playback.EffectiveVolume() != new.Playback.EffectiveVolume() {
		d.VolumeChanged = true
		d.NewVolume = new.Playback.EffectiveVolume()
	}

	// Everything else.
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	oldPB, newPB := old.Playback, new.Playback
	oldPB.Volume, newPB.Volume = nil, nil
	if oldPB != newPB {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Transport != new.Transport {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
