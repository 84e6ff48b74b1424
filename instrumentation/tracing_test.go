package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{Enabled: true, SpanProcessor: recorder})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, recorder
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	RecordError(span, errors.New("test error"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(ended[0].Events()))
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "test-span")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAddOAuthFlowAttributes(t *testing.T) {
	inst, recorder := newRecordedInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "authorize")
	AddOAuthFlowAttributes(span, "client-1", "", "read write")
	AddTokenFamilyAttributes(span, "family-1", "refresh_token")
	AddHTTPAttributes(span, "POST", "/token", 200)
	span.End()

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range recorder.Ended()[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}

	if attrs[AttrClientID].AsString() != "client-1" {
		t.Errorf("%s = %q", AttrClientID, attrs[AttrClientID].AsString())
	}
	if _, ok := attrs[AttrSubject]; ok {
		t.Errorf("empty subject should not be recorded")
	}
	if attrs[AttrScope].AsString() != "read write" {
		t.Errorf("%s = %q", AttrScope, attrs[AttrScope].AsString())
	}
	if attrs[AttrTokenFamilyID].AsString() != "family-1" {
		t.Errorf("%s = %q", AttrTokenFamilyID, attrs[AttrTokenFamilyID].AsString())
	}
	if attrs[AttrHTTPStatusCode].AsInt64() != 200 {
		t.Errorf("%s = %d", AttrHTTPStatusCode, attrs[AttrHTTPStatusCode].AsInt64())
	}
}

func TestSpanHelpers_NilSpan(t *testing.T) {
	// None of these may panic
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddOAuthFlowAttributes(nil, "c", "s", "scope")
	AddTokenFamilyAttributes(nil, "f", "access_token")
	AddHTTPAttributes(nil, "GET", "/", 200)
}
