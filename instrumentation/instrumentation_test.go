package instrumentation

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "disabled uses no-op providers",
			config: Config{Enabled: false},
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "prometheus exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: MetricsExporterPrometheus,
			},
		},
		{
			name: "unknown exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: "carrier-pigeon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer func() { _ = inst.Shutdown(context.Background()) }()

			if inst.Meter("http") == nil {
				t.Error("Meter('http') returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer('server') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil || inst.MeterProvider() == nil {
				t.Error("providers must not be nil")
			}
		})
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	disabled, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if disabled.MetricsHandler() != nil {
		t.Error("MetricsHandler() should be nil without the prometheus exporter")
	}

	inst, err := New(Config{Enabled: true, MetricsExporter: MetricsExporterPrometheus})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	inst.Metrics().RecordHTTPRequest(context.Background(), "POST", "/token", 200, 12.5)

	handler := inst.MetricsHandler()
	if handler == nil {
		t.Fatal("MetricsHandler() returned nil")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(body), "oauth_http_requests") {
		t.Errorf("metrics output missing oauth_http_requests:\n%s", body)
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 2 },
		func() int64 { return 3 },
		func() int64 { return 5 },
		nil,
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	want := map[string]int64{
		"storage.clients.count": 2,
		"storage.codes.count":   3,
		"storage.tokens.count":  5,
	}
	for name, value := range want {
		got, ok := gaugeValue(rm, name)
		if !ok {
			t.Errorf("gauge %s not collected", name)
			continue
		}
		if got != value {
			t.Errorf("gauge %s = %d, want %d", name, got, value)
		}
	}
	if _, ok := gaugeValue(rm, "storage.families.count"); ok {
		t.Error("gauge without a callback should not report a value")
	}
}

func gaugeValue(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(gauge.DataPoints) == 0 {
				return 0, false
			}
			return gauge.DataPoints[0].Value, true
		}
	}
	return 0, false
}
