package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestProviderConfig_Resource(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
		want map[string]string
		omit []string
	}{
		{
			name: "device and backend",
			cfg:  ProviderConfig{ServiceVersion: "1.2.3", DeviceName: "bread-compact-wifi", WakeWordBackend: "direct"},
			want: map[string]string{
				"service.name":              "wakecore",
				"service.version":           "1.2.3",
				"wakecore.device":           "bread-compact-wifi",
				"wakecore.wakeword.backend": "direct",
			},
		},
		{
			name: "wake word disabled",
			cfg:  ProviderConfig{ServiceName: "bench", DeviceName: "bread-compact-wifi"},
			want: map[string]string{"service.name": "bench", "wakecore.device": "bread-compact-wifi"},
			omit: []string{"wakecore.wakeword.backend"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.cfg.Resource()
			if err != nil {
				t.Fatalf("Resource: %v", err)
			}
			got := map[string]string{}
			for _, kv := range res.Attributes() {
				got[string(kv.Key)] = kv.Value.Emit()
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
			for _, k := range tc.omit {
				if _, ok := got[k]; ok {
					t.Errorf("unexpected attribute %s", k)
				}
			}
		})
	}
}

// Replaces the global providers, so it does not run in parallel.
func TestInitProvider_ExportsDeviceMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		DeviceName: "bread-compact-wifi",
		Registerer: reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordStateTransition(context.Background(), "idle", "listening")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawTransitions, sawDevice bool
	for _, f := range families {
		switch name := f.GetName(); {
		case strings.HasPrefix(name, "wakecore_device_state_transitions"):
			sawTransitions = true
		case name == "target_info":
			for _, l := range f.GetMetric()[0].GetLabel() {
				if l.GetName() == "wakecore_device" && l.GetValue() == "bread-compact-wifi" {
					sawDevice = true
				}
			}
		}
	}
	if !sawTransitions {
		t.Error("state transition counter not exported")
	}
	if !sawDevice {
		t.Error("target_info missing wakecore_device label")
	}
}
