package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/opentracing/opentracing-go/mocktracer"
)

func newTestTracer() *Tracer {
	return NewTracer(TracerConfig{Name: "test", Tracer: mocktracer.New()})
}

func TestTracer_StartCreatesSpan(t *testing.T) {
	tracer := newTestTracer()

	ctx, span := tracer.Start(context.Background(), "op")
	if span == nil {
		t.Fatal("Start returned nil span")
	}

	if SpanFromContext(ctx) == nil {
		t.Error("span was not attached to context")
	}
}

func TestTracer_ParentAndChildSpansHaveIDs(t *testing.T) {
	tracer := newTestTracer()

	ctx, parent := tracer.Start(context.Background(), "parent")
	_, child := tracer.Start(ctx, "child")

	if parent.Context.SpanID == "" {
		t.Fatal("parent span has no span id")
	}
	if child.Context.SpanID == "" {
		t.Fatal("child span has no span id")
	}
}

func TestSpan_SetAttributesAndEnd(t *testing.T) {
	tracer := newTestTracer()
	_, span := tracer.Start(context.Background(), "op")

	span.SetAttribute("node_id", "n1")
	span.SetAttributes(map[string]interface{}{"attempt": 1})
	span.AddEvent("scheduled", map[string]interface{}{"queue": "default"})

	span.End()

	if span.Duration() <= 0 {
		t.Error("Duration should be positive after End")
	}
}

func TestSpan_RecordErrorSetsStatus(t *testing.T) {
	tracer := newTestTracer()
	_, span := tracer.Start(context.Background(), "op")

	span.RecordError(errors.New("boom"))
	if span.status != SpanStatusError {
		t.Errorf("status = %v, want SpanStatusError", span.status)
	}

	span.End()
}

func TestTraceIDFromContext_NoSpan(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext on empty context = %q, want empty", got)
	}
}

func TestStartSpan_UsesGlobalTracer(t *testing.T) {
	original := GlobalTracer
	defer func() { GlobalTracer = original }()

	SetGlobalTracer(newTestTracer())

	ctx, span := StartSpan(context.Background(), "global-op")
	defer span.End()

	if SpanFromContext(ctx) == nil {
		t.Error("expected span to be attached via global tracer")
	}
}
