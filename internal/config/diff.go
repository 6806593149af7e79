package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RecorderChanged is true if any per-session threshold changed. The new
	// values apply from the next session.
	RecorderChanged bool
	Recorder        RecorderDiff

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// RecorderDiff flags individual recorder threshold changes.
type RecorderDiff struct {
	VADEnabled      bool
	VADMode         bool
	SilenceDuration bool
	SpeechDuration  bool
	NoSpeechTimeout bool
}

func (r RecorderDiff) any() bool {
	return r.VADEnabled || r.VADMode || r.SilenceDuration || r.SpeechDuration || r.NoSpeechTimeout
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	o, n := old.Recorder, new.Recorder
	d.Recorder = RecorderDiff{
		VADEnabled:      o.Enabled() != n.Enabled(),
		VADMode:         o.VADMode != n.VADMode,
		SilenceDuration: o.SilenceDurationMs != n.SilenceDurationMs,
		SpeechDuration:  o.SpeechDurationMs != n.SpeechDurationMs,
		NoSpeechTimeout: o.NoSpeechTimeout != n.NoSpeechTimeout,
	}
	d.RecorderChanged = d.Recorder.any()

	restart := func(changed bool, name string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, name)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(o.MaxDuration != n.MaxDuration, "recorder.max_duration")
	restart(o.MinDuration != n.MinDuration, "recorder.min_duration")
	restart(o.StorageRoot != n.StorageRoot, "recorder.storage_root")
	restart(o.QueueSize != n.QueueSize || o.OutboxSize != n.OutboxSize, "recorder queue sizes")
	restart(!sameEntry(old.Providers.Audio, new.Providers.Audio), "providers.audio")
	restart(!sameEntry(old.Providers.VAD, new.Providers.VAD), "providers.vad")
	restart(!sameEntries(old.Providers.Transcribe, new.Providers.Transcribe), "providers.transcribe")
	restart(!sameTranscribe(old.Transcribe, new.Transcribe), "transcribe")
	restart(old.Catalog.PostgresDSN != new.Catalog.PostgresDSN, "catalog.postgres_dsn")

	return d
}

func sameTranscribe(a, b TranscribeConfig) bool {
	return a.Language == b.Language &&
		a.Timeout == b.Timeout &&
		a.MaxFailures == b.MaxFailures &&
		a.ResetTimeout == b.ResetTimeout &&
		(a.Enabled == nil) == (b.Enabled == nil) &&
		(a.Enabled == nil || *a.Enabled == *b.Enabled) &&
		slices.Equal(a.Vocabulary, b.Vocabulary)
}

func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

func sameEntries(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameEntry(a[i], b[i]) {
			return false
		}
	}
	return true
}
