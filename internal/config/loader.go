package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultDeviceName         = "bread-compact-wifi"
	DefaultGuardDelay         = 120 * time.Millisecond
	DefaultCodec              = "wavfile"
	DefaultDetectorSampleRate = 16000
	DefaultIdleDelay          = 30 * time.Millisecond
	DefaultCaptureFrame       = 30 * time.Millisecond
	DefaultBreakerFailures    = 5
	DefaultBreakerReset       = 2 * time.Second
	DefaultModelPrefix        = "wn"
	DefaultHistory            = 2 * time.Second
	DefaultAcousticEngine     = "flux"
	DefaultHeartbeatPeriod    = time.Second
	DefaultDiagnosticsEvery   = 10
)

// ValidProviderNames lists known implementation names per registry kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"device":   {"bread-compact-wifi"},
	"codec":    {"wavfile", "portaudio"},
	"display":  {"log", "none", "websocket"},
	"led":      {"log", "none"},
	"acoustic": {"flux"},
}

// Load reads the YAML configuration file at path from the OS filesystem and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	return LoadFile(afero.NewOsFs(), path)
}

// LoadFile reads the YAML configuration file at path from fs.
func LoadFile(fs afero.Fs, path string) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		WakeWord: WakeWordConfig{Enabled: true, EncodeHistory: true},
		Input:    InputConfig{Console: true},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Device.Name == "" {
		cfg.Device.Name = DefaultDeviceName
	}
	if cfg.Device.GuardDelay == 0 {
		cfg.Device.GuardDelay = DefaultGuardDelay
	}

	a := &cfg.Audio
	if a.Codec.Name == "" {
		a.Codec.Name = DefaultCodec
	}
	if a.DetectorSampleRate == 0 {
		a.DetectorSampleRate = DefaultDetectorSampleRate
	}
	if a.IdleDelay == 0 {
		a.IdleDelay = DefaultIdleDelay
	}
	if a.CaptureFrame == 0 {
		a.CaptureFrame = DefaultCaptureFrame
	}
	if a.Breaker.MaxFailures == 0 {
		a.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if a.Breaker.ResetTimeout == 0 {
		a.Breaker.ResetTimeout = DefaultBreakerReset
	}

	w := &cfg.WakeWord
	if w.Backend == "" {
		w.Backend = BackendPipeline
	}
	if w.ModelPrefix == "" {
		w.ModelPrefix = DefaultModelPrefix
	}
	if w.History == 0 {
		w.History = DefaultHistory
	}
	if w.Engine.Name == "" {
		w.Engine.Name = DefaultAcousticEngine
	}

	if cfg.Display.Name == "" {
		cfg.Display.Name = "log"
	}
	if cfg.LED.Name == "" {
		cfg.LED.Name = "log"
	}

	if cfg.Heartbeat.Period == 0 {
		cfg.Heartbeat.Period = DefaultHeartbeatPeriod
	}
	if cfg.Heartbeat.DiagnosticsEvery == 0 {
		cfg.Heartbeat.DiagnosticsEvery = DefaultDiagnosticsEvery
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.DetectorSampleRate < 8000 || a.DetectorSampleRate%1000 != 0 {
		errs = append(errs, fmt.Errorf("audio.detector_sample_rate %d must be a multiple of 1000 and at least 8000", a.DetectorSampleRate))
	}
	if a.DemoBufferLimitBytes < 0 {
		errs = append(errs, fmt.Errorf("audio.demo_buffer_limit_bytes %d must not be negative", a.DemoBufferLimitBytes))
	}
	if a.IdleDelay < 0 {
		errs = append(errs, fmt.Errorf("audio.idle_delay %s must not be negative", a.IdleDelay))
	}
	if a.CaptureFrame < 0 || a.CaptureFrame%time.Millisecond != 0 {
		errs = append(errs, fmt.Errorf("audio.capture_frame %s must be a positive whole number of milliseconds", a.CaptureFrame))
	}
	if a.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("audio.breaker.max_failures %d must not be negative", a.Breaker.MaxFailures))
	}
	if a.Codec.Name == "wavfile" && a.Codec.OptionString("input_path", "") == "" {
		errs = append(errs, errors.New("audio.codec.options.input_path is required for the wavfile codec"))
	}

	// Wake word
	w := cfg.WakeWord
	if w.Backend != "" && !w.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("wakeword.backend %q is invalid; valid values: pipeline, direct", w.Backend))
	}
	if w.History < 0 {
		errs = append(errs, fmt.Errorf("wakeword.history %s must not be negative", w.History))
	}
	if w.EncodeHistory && !w.Enabled {
		slog.Warn("wakeword.encode_history has no effect while wakeword.enabled is false")
	}

	// Display
	if cfg.Display.Name == "websocket" && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("display \"websocket\" requires server.listen_addr"))
	}

	// Heartbeat
	if cfg.Heartbeat.Period < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.period %s must not be negative", cfg.Heartbeat.Period))
	}
	if cfg.Heartbeat.DiagnosticsEvery < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.diagnostics_every %d must not be negative", cfg.Heartbeat.DiagnosticsEvery))
	}

	// Registry names: unknown ones may be registered by a custom build.
	validateProviderName("device", cfg.Device.Name)
	validateProviderName("codec", a.Codec.Name)
	validateProviderName("display", cfg.Display.Name)
	validateProviderName("led", cfg.LED.Name)
	validateProviderName("acoustic", w.Engine.Name)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown implementation name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
