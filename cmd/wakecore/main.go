// Command wakecore runs the voice-device core: wake-word detection, the
// device state machine and the audio loop, on a WAV-file or PortAudio codec.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/wakecore/internal/app"
	"github.com/MrWong99/wakecore/internal/board"
	"github.com/MrWong99/wakecore/internal/config"
	"github.com/MrWong99/wakecore/internal/health"
	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/pkg/display"
	"github.com/MrWong99/wakecore/pkg/led"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// exitReboot asks the supervisor to restart the process.
const exitReboot = 3

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (empty: built-in defaults)")
	inputPath := flag.String("input", "", "WAV recording used as microphone input when no config file is given")
	outputPath := flag.String("output", "", "WAV file receiving played audio when no config file is given")
	listenAddr := flag.String("listen", "", "ops HTTP address when no config file is given")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *inputPath, *outputPath, *listenAddr)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wakecore: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wakecore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level, cfg.Server.LogLevel))

	slog.Info("wakecore starting",
		"version", version,
		"config", *configPath,
		"device", cfg.Device.Name,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelCfg := observe.ProviderConfig{
		ServiceVersion: version,
		DeviceName:     cfg.Device.Name,
	}
	if cfg.WakeWord.Enabled {
		otelCfg.WakeWordBackend = string(cfg.WakeWord.Backend)
	}
	shutdownOTel, err := observe.InitProvider(ctx, otelCfg)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Collaborator registry ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	board.RegisterBuiltins(reg, afero.NewOsFs())

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, providers)

	appOpts := []app.Option{
		app.WithLogLevel(level),
		app.WithConsole(os.Stdin),
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	var watcher *config.Watcher
	if *configPath != "" {
		watcher, err = config.NewWatcher(*configPath)
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
			watcher = nil
		} else {
			defer watcher.Stop()
			appOpts = append(appOpts, app.WithHealthCheck(health.Checker{
				Name:  "config",
				Check: func(context.Context) error { return watcher.Err() },
			}))
		}
	}

	application, err := app.New(cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if watcher != nil {
		watcher.Start(application.ApplyConfig)
	}

	slog.Info("device core running, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil {
		switch {
		case errors.Is(err, app.ErrRebootRequested):
			slog.Info("reboot requested, exiting for restart")
			code = exitReboot
		case errors.Is(err, context.Canceled):
		default:
			slog.Error("run error", "err", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path, or builds the default config around the input and
// output flags when path is empty.
func loadConfig(path, input, output, listen string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.Audio.Codec.Options = map[string]any{
		"input_path":  input,
		"output_path": output,
	}
	cfg.Server.ListenAddr = listen
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w (pass -config or -input)", err)
	}
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the configured collaborators. A missing codec is
// fatal; display, LED and acoustic engine failures degrade to no-op
// substitutes.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	p := &app.Providers{}

	codec, err := reg.CreateCodec(cfg.Audio.Codec)
	if err != nil {
		return nil, err
	}
	p.Codec = codec

	if p.Display, err = reg.CreateDisplay(cfg.Display); err != nil {
		slog.Error("display unavailable, continuing without one", "err", err)
		p.Display = display.None{}
	}
	if p.LED, err = reg.CreateLED(cfg.LED); err != nil {
		slog.Error("led unavailable, continuing without one", "err", err)
		p.LED = led.None{}
	}
	if cfg.WakeWord.Enabled {
		if p.Acoustic, err = reg.CreateAcoustic(cfg.WakeWord.Engine); err != nil {
			slog.Error("acoustic engine unavailable, wake word detection disabled", "err", err)
			p.Acoustic = nil
		}
	}
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        wakecore — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Board", cfg.Device.Name)
	printRow("Codec", cfg.Audio.Codec.Name)
	printRow("Display", cfg.Display.Name)
	printRow("LED", cfg.LED.Name)
	switch {
	case !cfg.WakeWord.Enabled:
		printRow("Wake word", "(disabled)")
	case p.Acoustic == nil:
		printRow("Wake word", "(unavailable)")
	default:
		printRow("Wake word", cfg.WakeWord.Engine.Name+" / "+string(cfg.WakeWord.Backend))
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The level lives in lv so config
// reloads can change it.
func newLogger(lv *slog.LevelVar, level config.LogLevel) *slog.Logger {
	lv.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}
