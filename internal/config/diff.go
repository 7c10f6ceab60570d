package config

import (
	"fmt"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GuardDelayChanged bool
	NewGuardDelay     time.Duration

	// RestartRequired lists top-level sections that changed but cannot be
	// applied at runtime.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GuardDelayChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Device.GuardDelay != new.Device.GuardDelay {
		d.GuardDelayChanged = true
		d.NewGuardDelay = new.Device.GuardDelay
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Device.Name != new.Device.Name {
		d.RestartRequired = append(d.RestartRequired, "device.name")
	}
	if !sameAudio(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !sameWakeWord(old.WakeWord, new.WakeWord) {
		d.RestartRequired = append(d.RestartRequired, "wakeword")
	}
	if !sameEntry(old.Display, new.Display) {
		d.RestartRequired = append(d.RestartRequired, "display")
	}
	if !sameEntry(old.LED, new.LED) {
		d.RestartRequired = append(d.RestartRequired, "led")
	}
	if old.Heartbeat != new.Heartbeat {
		d.RestartRequired = append(d.RestartRequired, "heartbeat")
	}
	if old.Input != new.Input {
		d.RestartRequired = append(d.RestartRequired, "input")
	}

	return d
}

func sameAudio(a, b AudioConfig) bool {
	return sameEntry(a.Codec, b.Codec) &&
		a.DetectorSampleRate == b.DetectorSampleRate &&
		a.DemoBufferLimitBytes == b.DemoBufferLimitBytes &&
		a.IdleDelay == b.IdleDelay &&
		a.CaptureFrame == b.CaptureFrame &&
		a.Breaker == b.Breaker
}

func sameWakeWord(a, b WakeWordConfig) bool {
	return a.Enabled == b.Enabled &&
		a.Backend == b.Backend &&
		a.ModelPrefix == b.ModelPrefix &&
		a.History == b.History &&
		a.EncodeHistory == b.EncodeHistory &&
		sameEntry(a.Engine, b.Engine)
}

// sameEntry compares names and the printed option values.
func sameEntry(a, b ProviderEntry) bool {
	if a.Name != b.Name || len(a.Options) != len(b.Options) {
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
