package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// SpanContext is the trace/span identifier pair extracted from an
// opentracing.SpanContext. Populated from the underlying jaeger span
// context; TraceID/SpanID are empty if the active tracer is a
// non-jaeger implementation (e.g. opentracing.NoopTracer in tests).
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	Sampled      bool
}

// IsValid returns whether the span context is valid.
func (sc SpanContext) IsValid() bool {
	return sc.TraceID != "" && sc.SpanID != ""
}

// SpanStatus represents the status of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span wraps an opentracing.Span with the LinkFlow call-site shape used
// across history/worker/frontend: SetAttribute/SetAttributes/AddEvent
// instead of opentracing's Tag/Log vocabulary.
type Span struct {
	Name      string
	Context   SpanContext
	StartTime time.Time

	mu        sync.Mutex
	endTime   time.Time
	status    SpanStatus
	statusMsg string
	raw       opentracing.Span
}

// End finishes the span.
func (s *Span) End() {
	s.mu.Lock()
	s.endTime = time.Now()
	status, msg := s.status, s.statusMsg
	s.mu.Unlock()

	if status == SpanStatusError {
		ext.Error.Set(s.raw, true)
		if msg != "" {
			s.raw.LogFields(otlog.String("error.message", msg))
		}
	}
	s.raw.Finish()
}

// SetStatus sets the span status.
func (s *Span) SetStatus(status SpanStatus, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.statusMsg = message
}

// SetAttribute sets a tag on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	s.raw.SetTag(key, value)
}

// SetAttributes sets multiple tags on the span.
func (s *Span) SetAttributes(attrs map[string]interface{}) {
	for k, v := range attrs {
		s.raw.SetTag(k, v)
	}
}

// AddEvent logs a structured event against the span.
func (s *Span) AddEvent(name string, attrs map[string]interface{}) {
	fields := make([]otlog.Field, 0, len(attrs)+1)
	fields = append(fields, otlog.String("event", name))
	for k, v := range attrs {
		fields = append(fields, otlog.Object(k, v))
	}
	s.raw.LogFields(fields...)
}

// RecordError records an error in the span.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.AddEvent("exception", map[string]interface{}{
		"exception.type":    "error",
		"exception.message": err.Error(),
	})
	s.SetStatus(SpanStatusError, err.Error())
}

// Duration returns the span duration.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.endTime.Sub(s.StartTime)
}

// Tracer creates spans against an opentracing.Tracer — a jaeger tracer in
// production, opentracing.NoopTracer{} in tests that don't care about
// tracing output.
type Tracer struct {
	name string
	ot   opentracing.Tracer
}

// TracerConfig holds tracer configuration.
type TracerConfig struct {
	Name   string
	Tracer opentracing.Tracer // defaults to opentracing.NoopTracer{}
}

// NewTracer creates a new tracer around an existing opentracing.Tracer.
func NewTracer(config TracerConfig) *Tracer {
	ot := config.Tracer
	if ot == nil {
		ot = opentracing.NoopTracer{}
	}
	return &Tracer{name: config.Name, ot: ot}
}

// NewJaegerTracer builds a jaeger-backed Tracer reporting to a local
// jaeger agent, sampling traces probabilistically at sampleRatio (1.0
// samples every trace). serviceName identifies this process
// in the jaeger UI (e.g. "linkflow-history", "linkflow-worker").
func NewJaegerTracer(serviceName string, sampleRatio float64) (*Tracer, io.Closer, error) {
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeProbabilistic,
			Param: sampleRatio,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LogSpans: false,
		},
	}

	ot, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, nil, fmt.Errorf("build jaeger tracer: %w", err)
	}

	return &Tracer{name: serviceName, ot: ot}, closer, nil
}

// Start creates and starts a new span, as a child of any span already in ctx.
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}

	raw := t.ot.StartSpan(name, opts...)
	span := &Span{
		Name:      name,
		StartTime: time.Now(),
		raw:       raw,
		Context:   spanContextOf(raw),
	}

	return opentracing.ContextWithSpan(ctx, raw), span
}

func spanContextOf(raw opentracing.Span) SpanContext {
	jctx, ok := raw.Context().(jaeger.SpanContext)
	if !ok {
		return SpanContext{Sampled: true}
	}
	var parent string
	if jctx.ParentID() != 0 {
		parent = jctx.ParentID().String()
	}
	return SpanContext{
		TraceID:      jctx.TraceID().String(),
		SpanID:       jctx.SpanID().String(),
		ParentSpanID: parent,
		Sampled:      jctx.IsSampled(),
	}
}

// SpanFromContext returns the Span's underlying opentracing.Span from ctx,
// wrapped back into a *Span, or nil if no span is active.
func SpanFromContext(ctx context.Context) *Span {
	raw := opentracing.SpanFromContext(ctx)
	if raw == nil {
		return nil
	}
	return &Span{raw: raw, Context: spanContextOf(raw)}
}

// TraceIDFromContext returns the trace ID of the active span, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	if span := SpanFromContext(ctx); span != nil {
		return span.Context.TraceID
	}
	return ""
}

// GlobalTracer is the default global tracer, a no-op until SetGlobalTracer
// installs a jaeger-backed one during process startup.
var GlobalTracer = NewTracer(TracerConfig{Name: "linkflow", Tracer: opentracing.NoopTracer{}})

// SetGlobalTracer sets the global tracer.
func SetGlobalTracer(tracer *Tracer) {
	GlobalTracer = tracer
	opentracing.SetGlobalTracer(tracer.ot)
}

// StartSpan starts a new span using the global tracer.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	return GlobalTracer.Start(ctx, name)
}
