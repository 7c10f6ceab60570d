// Package app wires all wakecore subsystems into a running device.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run performs the startup sequence and drives the event loop,
// the audio loop and the ops HTTP server until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject collaborators through [Providers] and test doubles via
// functional options (WithTimer, WithMetrics, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wakecore/internal/audioloop"
	"github.com/MrWong99/wakecore/internal/board"
	"github.com/MrWong99/wakecore/internal/config"
	"github.com/MrWong99/wakecore/internal/device"
	"github.com/MrWong99/wakecore/internal/eventloop"
	"github.com/MrWong99/wakecore/internal/health"
	"github.com/MrWong99/wakecore/internal/heartbeat"
	"github.com/MrWong99/wakecore/internal/observe"
	"github.com/MrWong99/wakecore/internal/resilience"
	"github.com/MrWong99/wakecore/internal/wakeword"
	"github.com/MrWong99/wakecore/pkg/acoustic"
	"github.com/MrWong99/wakecore/pkg/audio"
	"github.com/MrWong99/wakecore/pkg/devstate"
	"github.com/MrWong99/wakecore/pkg/display"
	"github.com/MrWong99/wakecore/pkg/input"
	"github.com/MrWong99/wakecore/pkg/led"
)

// ErrRebootRequested is returned by Run after [device.Machine.Reboot] asked
// the process to restart.
var ErrRebootRequested = errors.New("app: reboot requested")

// serverShutdownTimeout bounds how long the ops server drains connections.
const serverShutdownTimeout = 5 * time.Second

// Providers holds one collaborator per slot. Populated by main.go via the
// config registry. Codec is required; nil Display and LED fall back to no-op
// implementations, and a nil Acoustic disables wake-word detection.
type Providers struct {
	Codec    audio.Codec
	Display  display.Display
	LED      led.LED
	Acoustic acoustic.Provider
}

// App owns all subsystem lifetimes and runs the device core.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New.
	queue      *eventloop.Queue
	background *device.BackgroundTasks
	detector   *wakeword.Detector
	machine    *device.Machine
	loop       *audioloop.Loop
	heartbeat  *heartbeat.Heartbeat
	board      *board.Board
	health     *health.Handler

	// Injectable.
	metrics  *observe.Metrics
	timer    heartbeat.Timer
	memory   heartbeat.MemoryReporter
	console  io.Reader
	logLevel *slog.LevelVar
	reboot   func()
	checks   []health.Checker

	mu     sync.Mutex
	cancel context.CancelCauseFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics sets the metrics recorder shared by all subsystems. Defaults
// to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTimer injects the heartbeat timer instead of a [heartbeat.TickerTimer].
func WithTimer(t heartbeat.Timer) Option {
	return func(a *App) { a.timer = t }
}

// WithMemoryReporter injects the heartbeat's free-memory source.
func WithMemoryReporter(m heartbeat.MemoryReporter) Option {
	return func(a *App) { a.memory = m }
}

// WithConsole reads button commands from r while input.console is enabled.
func WithConsole(r io.Reader) Option {
	return func(a *App) { a.console = r }
}

// WithLogLevel lets config reloads change the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithRebootFunc replaces the default reboot, which stops Run with
// [ErrRebootRequested].
func WithRebootFunc(fn func()) Option {
	return func(a *App) { a.reboot = fn }
}

// WithHealthCheck adds c to the /readyz checks after the built-in ones.
func WithHealthCheck(c health.Checker) Option {
	return func(a *App) { a.checks = append(a.checks, c) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing runs until
// [App.Run] is called.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Codec == nil {
		return nil, errors.New("app: a codec is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.timer == nil {
		a.timer = &heartbeat.TickerTimer{}
	}
	if a.reboot == nil {
		a.reboot = func() { a.stop(ErrRebootRequested) }
	}
	if providers.Display == nil {
		providers.Display = display.None{}
	}
	if providers.LED == nil {
		providers.LED = led.None{}
	}

	// ── 1. Event loop ────────────────────────────────────────────────────
	a.queue = eventloop.New(eventloop.WithMetrics(a.metrics))

	// ── 2. Background worker ─────────────────────────────────────────────
	a.background = device.NewBackgroundTasks()
	a.closers = append(a.closers, func() error {
		a.background.Close()
		return nil
	})

	// ── 3. Wake-word detector ────────────────────────────────────────────
	a.initDetector()

	// ── 4. State machine ─────────────────────────────────────────────────
	a.initMachine()

	// ── 5. Audio loop ────────────────────────────────────────────────────
	a.initAudioLoop()

	// ── 6. Heartbeat ─────────────────────────────────────────────────────
	hbOpts := []heartbeat.Option{
		heartbeat.WithMetrics(a.metrics),
		heartbeat.WithDiagnosticsEvery(cfg.Heartbeat.DiagnosticsEvery),
	}
	if a.memory != nil {
		hbOpts = append(hbOpts, heartbeat.WithMemoryReporter(a.memory))
	}
	a.heartbeat = heartbeat.New(a.machine, a.queue, providers.Display, hbOpts...)

	// ── 7. Board ─────────────────────────────────────────────────────────
	b, err := board.New(cfg.Device.Name, a.machine, providers.Codec, a.queue)
	if err != nil {
		return nil, fmt.Errorf("app: init board: %w", err)
	}
	a.board = b

	// ── 8. Health ────────────────────────────────────────────────────────
	healthOpts := []health.Option{health.WithEventLoop(a.queue)}
	if cfg.WakeWord.Enabled {
		initialized := func() bool { return false }
		if a.detector != nil {
			initialized = a.detector.Initialized
		}
		healthOpts = append(healthOpts, health.WithDetector(initialized))
	}
	for _, c := range a.checks {
		healthOpts = append(healthOpts, health.WithChecker(c))
	}
	a.health = health.New(a.machine.State, healthOpts...)

	// ── 9. Collaborator cleanup ──────────────────────────────────────────
	if c, ok := providers.Display.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	if c, ok := providers.Codec.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initDetector() {
	ww := a.cfg.WakeWord
	if !ww.Enabled {
		slog.Info("wake word detection disabled")
		return
	}
	if a.providers.Acoustic == nil {
		slog.Warn("wake word detection enabled but no acoustic engine is available")
		return
	}
	a.detector = wakeword.New(a.providers.Acoustic, wakeword.Config{
		Backend:     wakeword.Backend(ww.Backend),
		ModelPrefix: ww.ModelPrefix,
		SampleRate:  a.cfg.Audio.DetectorSampleRate,
		History:     ww.History,
	}, wakeword.WithMetrics(a.metrics))
	a.closers = append(a.closers, a.detector.Close)
}

func (a *App) initMachine() {
	opts := []device.Option{
		device.WithDisplay(a.providers.Display),
		device.WithLED(a.providers.LED),
		device.WithBackgroundTasks(a.background),
		device.WithGuardDelay(a.cfg.Device.GuardDelay),
		device.WithMetrics(a.metrics),
		device.WithRebootFunc(a.reboot),
	}
	if a.detector != nil {
		opts = append(opts, device.WithDetector(a.detector))
	}
	a.machine = device.New(a.queue, opts...)
}

func (a *App) initAudioLoop() {
	ac := a.cfg.Audio
	var det audioloop.Detector
	if a.detector != nil {
		det = a.detector
	}
	a.loop = audioloop.New(a.providers.Codec, det, a.machine, audioloop.Config{
		DetectorSampleRate:   ac.DetectorSampleRate,
		DemoBufferLimitBytes: ac.DemoBufferLimitBytes,
		IdleDelay:            ac.IdleDelay,
		CaptureFrame:         ac.CaptureFrame,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  ac.Breaker.MaxFailures,
			ResetTimeout: ac.Breaker.ResetTimeout,
			OnStateChange: func(from, to resilience.State) {
				slog.Warn("codec input breaker changed state", "from", from.String(), "to", to.String())
			},
		},
	}, audioloop.WithMetrics(a.metrics))
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run performs the startup sequence and blocks until ctx is cancelled or a
// subsystem fails:
//
//	Starting → codec start + output enable → audio loop →
//	detector init + arm → Activating → Idle
//
// The event-loop consumer only starts after the sequence; until then the
// calling goroutine is the sole state writer.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	// ── Codec ────────────────────────────────────────────────────────────
	a.machine.SetState(devstate.Starting)
	codec := a.providers.Codec
	if err := codec.Start(); err != nil {
		a.machine.SetState(devstate.FatalError)
		return fmt.Errorf("app: start codec: %w", err)
	}
	codec.EnableOutput(true)

	// ── Audio loop ───────────────────────────────────────────────────────
	g.Go(func() error { return a.loop.Run(gctx) })

	// ── Wake-word detector ───────────────────────────────────────────────
	a.startDetector(gctx)

	a.machine.SetState(devstate.Activating)
	a.queue.Schedule(func() { a.machine.SetState(devstate.Idle) })

	// ── Event loop consumer ──────────────────────────────────────────────
	g.Go(func() error { return a.queue.Run(gctx) })

	// ── Heartbeat ────────────────────────────────────────────────────────
	if err := a.heartbeat.Start(a.timer, a.cfg.Heartbeat.Period); err != nil {
		cancel(err)
		_ = g.Wait()
		return fmt.Errorf("app: start heartbeat: %w", err)
	}
	defer a.timer.Stop()

	// ── Ops HTTP server ──────────────────────────────────────────────────
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("ops server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// ── Console input ────────────────────────────────────────────────────
	// Not part of the group: a blocked read cannot be interrupted.
	if a.cfg.Input.Console && a.console != nil {
		console := input.NewConsole(a.console, a.board.Buttons()...)
		go func() {
			if err := console.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("console input stopped", "err", err)
			}
		}()
	}

	err := g.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, ErrRebootRequested) {
		return ErrRebootRequested
	}
	return err
}

// startDetector initialises and arms the detector. Failures leave the device
// running without wake-word detection.
func (a *App) startDetector(ctx context.Context) {
	if a.detector == nil {
		return
	}
	codec := a.providers.Codec
	err := a.detector.Initialize(ctx, wakeword.CodecInfo{
		Channels:  codec.InputChannels(),
		Reference: codec.InputReference(),
	})
	if err != nil {
		slog.Error("wake word detector unavailable", "err", err)
		return
	}
	a.detector.OnWakeWordDetected(a.onWakeWord)
	a.detector.StartDetection()
}

// onWakeWord runs on the detection goroutine and hands the event to the
// consumer.
func (a *App) onWakeWord(word string) {
	a.queue.Schedule(func() { a.handleWakeWord(word) })
}

// handleWakeWord runs on the consumer.
func (a *App) handleWakeWord(word string) {
	state := a.machine.State()
	ctx, span := observe.StartWakeWord(word, state)
	defer span.End()

	observe.Logger(ctx).Info("wake word detected", "word", word, "state", state.String())
	a.metrics.RecordWakeWord(ctx, word)

	if a.cfg.WakeWord.EncodeHistory {
		clip := a.detector.EncodeWakeWordData(a.background)
		go drainClip(clip)
	}
	if state == devstate.Idle {
		a.machine.SetState(devstate.Listening)
	}
}

// drainClip consumes an encoded wake-word clip. There is no uplink, so the
// packets are only counted.
func drainClip(clip *wakeword.EncodedClip) {
	packets, size := 0, 0
	for {
		p, ok := clip.Next(context.Background())
		if !ok {
			break
		}
		packets++
		size += len(p)
	}
	if err := clip.Err(); err != nil {
		slog.Warn("wake word clip incomplete", "packets", packets, "err", err)
		return
	}
	slog.Debug("wake word clip ready", "packets", packets, "bytes", size)
}

// stop cancels Run with cause.
func (a *App) stop(cause error) {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel == nil {
		slog.Warn("stop requested before run", "cause", cause)
		return
	}
	cancel(cause)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the ops HTTP handler: /healthz, /readyz, /metrics,
// POST /reboot and, for displays that serve HTTP, /display.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /reboot", a.handleReboot)
	if h, ok := a.providers.Display.(http.Handler); ok {
		mux.Handle("/display", h)
	}
	return observe.Middleware(a.metrics, a.machine.State)(mux)
}

// handleReboot runs the reboot on the consumer so it is ordered after any
// pending state changes.
func (a *App) handleReboot(w http.ResponseWriter, r *http.Request) {
	slog.Info("reboot requested over http", "remote", r.RemoteAddr)
	a.queue.Schedule(a.machine.Reboot)
	w.WriteHeader(http.StatusAccepted)
}

// Machine returns the device state machine.
func (a *App) Machine() *device.Machine { return a.machine }

// Detector returns the wake-word detector, or nil when detection is disabled.
func (a *App) Detector() *wakeword.Detector { return a.detector }

// Board returns the board wiring.
func (a *App) Board() *board.Board { return a.board }

// Queue returns the event loop.
func (a *App) Queue() *eventloop.Queue { return a.queue }

// ApplyConfig hot-applies the reloadable parts of next. It is meant as the
// [config.Watcher] change callback.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.SlogLevel())
		}
		slog.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.GuardDelayChanged {
		a.machine.SetGuardDelay(d.NewGuardDelay)
		slog.Info("guard delay changed", "guard_delay", d.NewGuardDelay)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.timer.Stop()
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
