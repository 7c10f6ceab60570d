// Package config provides the configuration schema, loader, watcher and
// collaborator registry for the wakecore device runtime.
package config

import (
	"fmt"
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WakeWordBackend selects how the detector drives the acoustic engine.
type WakeWordBackend string

const (
	// BackendPipeline feeds a front-end pipeline that reports detections
	// alongside processed audio.
	BackendPipeline WakeWordBackend = "pipeline"

	// BackendDirect runs the last wake-word model directly on raw chunks.
	BackendDirect WakeWordBackend = "direct"
)

// IsValid reports whether b is a recognised backend.
func (b WakeWordBackend) IsValid() bool {
	return b == BackendPipeline || b == BackendDirect
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Audio     AudioConfig     `yaml:"audio"`
	WakeWord  WakeWordConfig  `yaml:"wakeword"`
	Display   ProviderEntry   `yaml:"display"`
	LED       ProviderEntry   `yaml:"led"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Input     InputConfig     `yaml:"input"`
}

// ServerConfig holds the ops HTTP surface and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz, /metrics and the
	// display feed. Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// DeviceConfig identifies the board and tunes the state machine.
type DeviceConfig struct {
	// Name selects the board wiring (buttons, notifications).
	Name string `yaml:"name"`

	// GuardDelay is the pause when entering Listening from Speaking.
	// Hot-reloadable. Negative disables it.
	GuardDelay time.Duration `yaml:"guard_delay"`
}

// AudioConfig configures the codec and the audio loop.
type AudioConfig struct {
	// Codec selects the registered codec implementation.
	Codec ProviderEntry `yaml:"codec"`

	// DetectorSampleRate is the rate the wake-word engine expects.
	DetectorSampleRate int `yaml:"detector_sample_rate"`

	// DemoBufferLimitBytes caps the loopback buffer. Zero means unbounded.
	DemoBufferLimitBytes int `yaml:"demo_buffer_limit_bytes"`

	// IdleDelay is the audio loop's sleep when an iteration moved no audio.
	IdleDelay time.Duration `yaml:"idle_delay"`

	// CaptureFrame is the capture size while listening without detection.
	CaptureFrame time.Duration `yaml:"capture_frame"`

	// Breaker tunes the circuit breaker around codec reads.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// WakeWordConfig configures the wake-word detector.
type WakeWordConfig struct {
	// Enabled turns detection on. Disabled devices only react to buttons.
	Enabled bool `yaml:"enabled"`

	// Backend selects pipeline or direct mode.
	Backend WakeWordBackend `yaml:"backend"`

	// ModelPrefix identifies wake-word models among the engine's models.
	ModelPrefix string `yaml:"model_prefix"`

	// History is how much raw audio is kept for encoding after a hit.
	History time.Duration `yaml:"history"`

	// EncodeHistory encodes the history to Opus after each detection.
	EncodeHistory bool `yaml:"encode_history"`

	// Engine selects the registered acoustic engine.
	Engine ProviderEntry `yaml:"engine"`
}

// HeartbeatConfig tunes the periodic housekeeping tick.
type HeartbeatConfig struct {
	Period           time.Duration `yaml:"period"`
	DiagnosticsEvery int64         `yaml:"diagnostics_every"`
}

// InputConfig configures local input sources.
type InputConfig struct {
	// Console reads button commands from stdin.
	Console bool `yaml:"console"`
}

// ProviderEntry selects a registered implementation by name and carries its
// implementation-specific options.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "wavfile", "log").
	Name string `yaml:"name"`

	// Options holds implementation-specific values. Values may be strings,
	// numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns the string option key, or def when absent.
func (e ProviderEntry) OptionString(key, def string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OptionInt returns the integer option key, or def when absent or not a
// number.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// OptionFloat returns the numeric option key, or def when absent.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return def
	}
}

// OptionBool returns the boolean option key, or def when absent.
func (e ProviderEntry) OptionBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptionDuration returns the duration option key, or def when absent or
// unparsable. Strings use [time.ParseDuration]; numbers are milliseconds.
func (e ProviderEntry) OptionDuration(key string, def time.Duration) time.Duration {
	switch v := e.Options[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return def
}
