package instrumentation

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestInstrumentation(t *testing.T) (*Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

// counterTotal sums every data point of an int64 counter, optionally filtered by one attribute
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string, filter ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				if len(filter) > 0 {
					v, ok := dp.Attributes.Value(filter[0].Key)
					if !ok || v != filter[0].Value {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_AuthorizationFlow(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	m := inst.Metrics()

	m.RecordClientRegistration(ctx, "public")
	m.RecordCodeIssued(ctx, "client-1")
	m.RecordCodeIssued(ctx, "client-1")
	m.RecordCodeRedeemed(ctx, "client-1")
	m.RecordCodeRejected(ctx, "consumed")
	m.RecordFlowTransition(ctx, "CODE_ISSUED", "REDEEMED")
	m.RecordTokensIssued(ctx, "authorization_code", 2)
	m.RecordTokenRefresh(ctx, "client-1")

	tests := []struct {
		name   string
		metric string
		filter []attribute.KeyValue
		want   int64
	}{
		{"registrations", "oauth.client.registered", nil, 1},
		{"codes issued", "oauth.code.issued", nil, 2},
		{"codes redeemed", "oauth.code.redeemed", nil, 1},
		{"codes rejected as consumed", "oauth.code.rejected", []attribute.KeyValue{attribute.String("reason", "consumed")}, 1},
		{"flow transitions", "oauth.flow.transitions", nil, 1},
		{"tokens issued", "oauth.token.issued", []attribute.KeyValue{attribute.String("grant_type", "authorization_code")}, 2},
		{"refreshes", "oauth.token.refreshed", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterTotal(t, reader, tt.metric, tt.filter...); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.metric, got, tt.want)
			}
		})
	}
}

func TestMetrics_Revocation(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	m := inst.Metrics()

	m.RecordTokenRevocation(ctx, "refresh_token", 3)
	m.RecordTokenRevocation(ctx, "access_token", 0)
	m.RecordFamilyRevocation(ctx, "revocation_request")

	if got := counterTotal(t, reader, "oauth.token.revoked"); got != 3 {
		t.Errorf("oauth.token.revoked = %d, want 3", got)
	}
	if got := counterTotal(t, reader, "oauth.token.family_revoked"); got != 1 {
		t.Errorf("oauth.token.family_revoked = %d, want 1", got)
	}
}

func TestMetrics_SecurityEvents(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)
	m := inst.Metrics()

	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordAuthenticationFailed(ctx, "client")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordCodeReuseDetected(ctx)
	m.RecordIntrospection(ctx, false)

	if got := counterTotal(t, reader, "oauth.code.reuse_detected"); got != 2 {
		t.Errorf("oauth.code.reuse_detected = %d, want 2", got)
	}
	if got := counterTotal(t, reader, "oauth.token.introspected", attribute.Bool("active", false)); got != 1 {
		t.Errorf("inactive introspections = %d, want 1", got)
	}
	if got := counterTotal(t, reader, "oauth.ratelimit.exceeded"); got != 1 {
		t.Errorf("oauth.ratelimit.exceeded = %d, want 1", got)
	}
}

func TestMetrics_StorageOperation(t *testing.T) {
	ctx := context.Background()
	inst, reader := newTestInstrumentation(t)

	inst.Metrics().RecordStorageOperation(ctx, "save_client", "success", 0.4)
	inst.Metrics().RecordStorageOperation(ctx, "get_client", "error", 0.2)

	if got := counterTotal(t, reader, "storage.operation.total", attribute.String("result", "error")); got != 1 {
		t.Errorf("failed storage operations = %d, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// None of these may panic
	m.RecordHTTPRequest(ctx, "GET", "/health", 200, 1)
	m.RecordClientRegistration(ctx, "public")
	m.RecordClientDeregistration(ctx)
	m.RecordCodeIssued(ctx, "c")
	m.RecordCodeRedeemed(ctx, "c")
	m.RecordCodeRejected(ctx, "expired")
	m.RecordFlowTransition(ctx, "a", "b")
	m.RecordTokensIssued(ctx, "refresh_token", 2)
	m.RecordTokenRefresh(ctx, "c")
	m.RecordTokenRevocation(ctx, "access_token", 1)
	m.RecordFamilyRevocation(ctx, "client_deregistered")
	m.RecordIntrospection(ctx, true)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordAuthenticationFailed(ctx, "user")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordStorageOperation(ctx, "get_token", "success", 1)
}

func TestMetrics_Disabled(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// No-op instruments accept recordings silently
	inst.Metrics().RecordTokensIssued(context.Background(), "authorization_code", 2)
	inst.Metrics().RecordHTTPRequest(context.Background(), "POST", "/token", 200, 3)
}
