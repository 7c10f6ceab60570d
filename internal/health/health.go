// Package health serves the device's liveness and readiness endpoints.
//
// /healthz answers 200 while the process can serve HTTP and reports the
// current device state. /readyz additionally runs the device checks: the
// device has left Unknown and is not in FatalError, the event-loop consumer
// runs a scheduled no-op, and the wake-word detector is initialised when one is
// configured. Any failing check turns /readyz into a 503.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrWong99/wakecore/pkg/devstate"
)

// DefaultCheckTimeout bounds each readiness check. A consumer that cannot run
// a no-op task within it is considered stalled.
const DefaultCheckTimeout = 2 * time.Second

// Scheduler enqueues work for the event-loop consumer.
type Scheduler interface {
	Schedule(task func())
}

// Checker is one named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of both endpoints.
type Report struct {
	Status string            `json:"status"`
	State  string            `json:"state,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithEventLoop adds the "eventloop" check: a no-op task scheduled on s must
// run before the check times out.
func WithEventLoop(s Scheduler) Option {
	return WithChecker(Checker{
		Name: "eventloop",
		Check: func(ctx context.Context) error {
			done := make(chan struct{})
			s.Schedule(func() { close(done) })
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return fmt.Errorf("event loop did not run a task: %w", ctx.Err())
			}
		},
	})
}

// WithDetector adds the "wakeword" check, failing until initialized reports
// true.
func WithDetector(initialized func() bool) Option {
	return WithChecker(Checker{
		Name: "wakeword",
		Check: func(context.Context) error {
			if !initialized() {
				return errors.New("wake-word detector not initialized")
			}
			return nil
		},
	})
}

// WithChecker adds c after the built-in checks.
func WithChecker(c Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c) }
}

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	state    func() devstate.State
	checkers []Checker
	timeout  time.Duration
}

// New creates a handler reporting the state returned by state. The "device"
// check is always first.
func New(state func() devstate.State, opts ...Option) *Handler {
	h := &Handler{state: state, timeout: DefaultCheckTimeout}
	h.checkers = []Checker{{Name: "device", Check: h.checkDevice}}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) checkDevice(context.Context) error {
	switch h.state() {
	case devstate.Unknown:
		return errors.New("device not started")
	case devstate.FatalError:
		return errors.New("device in fatal error state")
	default:
		return nil
	}
}

// Ready runs every check in order and reports whether all passed.
func (h *Handler) Ready(ctx context.Context) (Report, bool) {
	rep := Report{
		Status: "ok",
		State:  h.state().String(),
		Checks: make(map[string]string, len(h.checkers)),
	}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
			continue
		}
		rep.Checks[c.Name] = "ok"
	}
	return rep, rep.Status == "ok"
}

// Healthz always answers 200 with the device state.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: "ok", State: h.state().String()})
}

// Readyz answers 200 when every check passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.Ready(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
