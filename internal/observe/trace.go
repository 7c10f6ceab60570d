package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/wakecore/pkg/devstate"
)

// tracerName is the instrumentation scope of every wakecore span.
const tracerName = "github.com/MrWong99/wakecore"

// Span names.
const (
	SpanStateChange = "device.SetState"
	SpanWakeWord    = "app.WakeWord"
)

// Span attribute keys.
const (
	AttrStateFrom  = attribute.Key("wakecore.state.from")
	AttrStateTo    = attribute.Key("wakecore.state.to")
	AttrState      = attribute.Key("wakecore.state")
	AttrWakeWord   = attribute.Key("wakecore.wakeword")
	AttrGuardDelay = attribute.Key("wakecore.guard_delay_ms")
)

// eventGuardDelay marks the pause before Listening after Speaking.
const eventGuardDelay = "guard_delay"

// Tracer returns the wakecore tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartStateChange starts the span covering one device state transition.
// Transitions run on the event-loop consumer and have no parent.
func StartStateChange(from, to devstate.State) (context.Context, trace.Span) {
	return Tracer().Start(context.Background(), SpanStateChange,
		trace.WithAttributes(
			AttrStateFrom.String(from.String()),
			AttrStateTo.String(to.String()),
		),
	)
}

// StartWakeWord starts the span covering the handling of a detected phrase
// while the device is in state.
func StartWakeWord(word string, state devstate.State) (context.Context, trace.Span) {
	return Tracer().Start(context.Background(), SpanWakeWord,
		trace.WithAttributes(
			AttrWakeWord.String(word),
			AttrState.String(state.String()),
		),
	)
}

// GuardDelayEvent records on the span in ctx that the transition paused for d.
func GuardDelayEvent(ctx context.Context, d time.Duration) {
	trace.SpanFromContext(ctx).AddEvent(eventGuardDelay,
		trace.WithAttributes(AttrGuardDelay.Int64(d.Milliseconds())),
	)
}

// Logger returns the default logger with trace_id and span_id from the span
// in ctx. Without a span it is the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
