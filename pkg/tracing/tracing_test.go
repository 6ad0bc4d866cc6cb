package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withRecorder swaps the global tracer provider for one that keeps spans in
// memory, restoring the previous provider when the test ends.
func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func attrValue(span tracesdk.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func requireAttr(t *testing.T, span tracesdk.ReadOnlySpan, key attribute.Key, want string) {
	t.Helper()
	v, ok := attrValue(span, key)
	require.True(t, ok, "attribute %s missing", key)
	assert.Equal(t, want, v.AsString())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "nearcast", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.JaegerURL)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledNeedsNoCollector(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestStartSpan_RecordsName(t *testing.T) {
	recorder := withRecorder(t)

	_, span := StartSpan(context.Background(), "pairing.accept")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pairing.accept", spans[0].Name())
}

func TestStartSpan_ChildInheritsTrace(t *testing.T) {
	recorder := withRecorder(t)

	ctx, parent := StartSpan(context.Background(), "pairing.accept")
	_, child := StartSpan(ctx, "store.create")
	child.End()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, parent.SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}

func TestSpanFromContext(t *testing.T) {
	withRecorder(t)

	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()

	assert.Equal(t, span.SpanContext(), SpanFromContext(ctx).SpanContext())
	assert.False(t, SpanFromContext(context.Background()).IsRecording())
}

func TestAddSpanAttributes(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "pairing.handshake")
	AddSpanAttributes(ctx,
		DecisionKey.String("pending"),
		PairIDKey.String("pair-1"),
	)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	requireAttr(t, spans[0], DecisionKey, "pending")
	requireAttr(t, spans[0], PairIDKey, "pair-1")
}

func TestAddSpanAttributes_WithoutSpanIsNoop(t *testing.T) {
	AddSpanAttributes(context.Background(), DecisionKey.String("pending"))
}

func TestRecordError_MarksSpanFailed(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "store.create")
	RecordError(ctx, errors.New("store down"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "store down", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestTraceHTTPRequest(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceHTTPRequest(context.Background(), "GET", "/api/v1/sessions")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "http.GET", spans[0].Name())
	requireAttr(t, spans[0], "http.method", "GET")
	requireAttr(t, spans[0], "http.route", "/api/v1/sessions")
}

func TestTracePairingOperation(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TracePairingOperation(context.Background(), "handshake", "conn-42")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pairing.handshake", spans[0].Name())
	requireAttr(t, spans[0], "pairing.operation", "handshake")
	requireAttr(t, spans[0], ConnectionKey, "conn-42")
}

func TestTraceSessionOperation(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceSessionOperation(context.Background(), "end", "sess-7")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.end", spans[0].Name())
	requireAttr(t, spans[0], SessionIDKey, "sess-7")
}

func TestTraceStoreOperation(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceStoreOperation(context.Background(), "get", "sessions")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "store.get", spans[0].Name())
	requireAttr(t, spans[0], "store.operation", "get")
	requireAttr(t, spans[0], "store.name", "sessions")
}
