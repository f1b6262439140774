package tracing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/recaptcha-defer/internal/shared/id"
)

// Propagation headers, shared with the origin on proxied requests
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// spanBuffer bounds the spans waiting to be logged
const spanBuffer = 1024

type (
	// TraceID groups the spans of one request across services
	TraceID string
	// SpanID names one operation within a trace
	SpanID string
)

// Span is one timed operation. A span is owned by the goroutine that started
// it until it is submitted.
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Start      time.Time
	Duration   time.Duration
	StatusCode int
	Err        error

	tags []zap.Field
}

// SetTag attaches a string attribute to the span
func (s *Span) SetTag(key, value string) {
	s.tags = append(s.tags, zap.String(key, value))
}

// SetStatus records the response status
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// SetError marks the span failed. A span without a server error status is
// reported as 500.
func (s *Span) SetError(err error) {
	s.Err = err
	if s.StatusCode < http.StatusInternalServerError {
		s.StatusCode = http.StatusInternalServerError
	}
}

// Finish stops the span's clock
func (s *Span) Finish() {
	s.Duration = time.Since(s.Start)
}

func (s *Span) fields(service string) []zap.Field {
	fields := make([]zap.Field, 0, 8+len(s.tags))
	fields = append(fields,
		zap.String("service", service),
		zap.String("operation", s.Name),
		zap.String("trace_id", string(s.TraceID)),
		zap.String("span_id", string(s.SpanID)),
		zap.Duration("duration", s.Duration),
	)
	if s.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(s.ParentID)))
	}
	if s.StatusCode != 0 {
		fields = append(fields, zap.Int("status", s.StatusCode))
	}
	fields = append(fields, s.tags...)
	if s.Err != nil {
		fields = append(fields, zap.Error(s.Err))
	}
	return fields
}

// Tracer writes finished spans to the log from a background goroutine so
// request handling never blocks on logging
type Tracer struct {
	service string
	logger  *zap.Logger

	mu     sync.RWMutex
	queue  chan *Span
	closed bool
	done   chan struct{}
}

// New starts a tracer for service
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		queue:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.drain()
	return t
}

// StartSpan opens a span. It joins the trace carried by ctx, or starts a new
// one, and returns ctx carrying the new span.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	parent := fromContext(ctx)
	if parent.trace == "" {
		parent.trace = TraceID(id.NewTraceID())
	}

	span := &Span{
		TraceID:  parent.trace,
		SpanID:   SpanID(id.Default().String()),
		ParentID: parent.span,
		Name:     name,
		Start:    time.Now(),
	}
	return span, WithTrace(ctx, span.TraceID, span.SpanID)
}

// Submit queues a finished span. Spans are dropped when the queue is full or
// the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return
	}
	select {
	case t.queue <- span:
	default:
		t.logger.Warn("Span queue full, dropping span",
			zap.String("operation", span.Name),
			zap.String("trace_id", string(span.TraceID)),
		)
	}
}

// Close logs the queued spans and stops the tracer
func (t *Tracer) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	<-t.done
}

func (t *Tracer) drain() {
	defer close(t.done)
	for span := range t.queue {
		if span.Err != nil {
			t.logger.Error("span completed with error", span.fields(t.service)...)
			continue
		}
		t.logger.Debug("span completed", span.fields(t.service)...)
	}
}

// ExtractTraceContext reads the propagation headers
func ExtractTraceContext(h http.Header) (TraceID, SpanID) {
	return TraceID(h.Get(HeaderTraceID)), SpanID(h.Get(HeaderSpanID))
}

// InjectTraceContext copies the trace carried by ctx into outgoing headers
func InjectTraceContext(ctx context.Context, h http.Header) {
	sc := fromContext(ctx)
	if sc.trace != "" {
		h.Set(HeaderTraceID, string(sc.trace))
	}
	if sc.span != "" {
		h.Set(HeaderSpanID, string(sc.span))
	}
}

type spanContext struct {
	trace TraceID
	span  SpanID
}

type spanContextKey struct{}

func fromContext(ctx context.Context) spanContext {
	sc, _ := ctx.Value(spanContextKey{}).(spanContext)
	return sc
}

// WithTrace returns ctx carrying traceID and spanID. Empty values keep what
// ctx already carries.
func WithTrace(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	sc := fromContext(ctx)
	if traceID != "" {
		sc.trace = traceID
	}
	if spanID != "" {
		sc.span = spanID
	}
	if sc == (spanContext{}) {
		return ctx
	}
	return context.WithValue(ctx, spanContextKey{}, sc)
}

// GetTraceID returns the trace carried by ctx
func GetTraceID(ctx context.Context) TraceID {
	return fromContext(ctx).trace
}

// GetSpanID returns the current span carried by ctx
func GetSpanID(ctx context.Context) SpanID {
	return fromContext(ctx).span
}
