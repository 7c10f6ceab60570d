package observe

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/wakecore/pkg/devstate"
)

func opsSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTracer(t)
}

func respond(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestMiddleware_SpanCarriesDeviceState(t *testing.T) {
	m, _, exp := opsSetup(t)
	state := func() devstate.State { return devstate.Listening }

	rec := httptest.NewRecorder()
	Middleware(m, state)(respond(http.StatusOK)).ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "ops GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0], AttrState); !ok || v.AsString() != "listening" {
		t.Errorf("%s = %v, want listening", AttrState, v.AsString())
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != 200 {
		t.Errorf("status code attribute = %v", v.AsInt64())
	}
}

func TestMiddleware_NilStateFunc(t *testing.T) {
	m, _, exp := opsSetup(t)

	Middleware(m, nil)(respond(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if _, ok := spanAttr(spans[0], AttrState); ok {
		t.Error("span has a state attribute without a state source")
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "incoming trace context",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, _, _ := opsSetup(t)

			var inHandler string
			h := Middleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = correlationID(r.Context())
			}))
			req := httptest.NewRequest("POST", "/reboot", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(inHandler) != 32 {
				t.Fatalf("handler saw trace id %q", inHandler)
			}
			if tc.want != "" && inHandler != tc.want {
				t.Errorf("trace id = %q, want %q", inHandler, tc.want)
			}
			if got := rec.Header().Get(CorrelationHeader); got != inHandler {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, inHandler)
			}
		})
	}
}

func TestMiddleware_RecordsDurationWithStatus(t *testing.T) {
	m, reader, _ := opsSetup(t)

	Middleware(m, nil)(respond(http.StatusServiceUnavailable)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wakecore.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("data = %#v, want one histogram point", met.Data)
	}
	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("count = %d, want 1", dp.Count)
	}
	for key, want := range map[string]string{"method": "GET", "path": "/readyz", "status": "503"} {
		v, ok := dp.Attributes.Value(attribute.Key(key))
		if !ok || v.AsString() != want {
			t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
		}
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	tests := []struct {
		code int
		want codes.Code
	}{
		{http.StatusAccepted, codes.Unset},
		{http.StatusNotFound, codes.Unset},
		{http.StatusServiceUnavailable, codes.Error},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			m, _, exp := opsSetup(t)
			Middleware(m, nil)(respond(tc.code)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if spans[0].Status.Code != tc.want {
				t.Errorf("span status = %v, want %v", spans[0].Status.Code, tc.want)
			}
		})
	}
}

func TestMiddleware_PolledPathsLogAtDebug(t *testing.T) {
	m, _, _ := opsSetup(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	h := Middleware(m, nil)(respond(http.StatusOK))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}
	if buf.Len() != 0 {
		t.Errorf("polled requests logged at info: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/reboot", nil))
	if !strings.Contains(buf.String(), "path=/reboot") {
		t.Errorf("reboot request not logged: %q", buf.String())
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	c1, c2 := net.Pipe()
	_ = c2.Close()
	return c1, bufio.NewReadWriter(bufio.NewReader(c1), bufio.NewWriter(c1)), nil
}

func TestMiddleware_DisplayUpgradeHijacks(t *testing.T) {
	m, _, exp := opsSetup(t)

	h := Middleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_ = conn.Close()
	}))
	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/display", nil))

	if !rec.hijacked {
		t.Error("underlying writer was not hijacked")
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if v, _ := spanAttr(spans[0], "http.response.status_code"); v.AsInt64() != http.StatusSwitchingProtocols {
		t.Errorf("status code attribute = %d, want 101", v.AsInt64())
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	m, _, _ := opsSetup(t)

	var hijackErr error
	h := Middleware(m, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, hijackErr = w.(http.Hijacker).Hijack()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/display", nil))

	if hijackErr == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
}
