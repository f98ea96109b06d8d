package coordinator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/store"
)

// TracerName is the instrumentation scope of the coordinator's spans.
const TracerName = "github.com/roach88/canvaslog/internal/coordinator"

// Notifier receives the state produced by every successful append.
//
// Notify is called after the aggregate's lane is released, with a copy of
// the state the caller also receives. It must not block for long; fan-out
// belongs to the implementation.
//
// Delivery order is not guaranteed: two appends to the same aggregate can
// reach Notify as v6 before v5. Implementations that need order compare
// state.Version and drop stale states, as the HTTP stream does.
type Notifier interface {
	Notify(ctx context.Context, aggregateID string, state canvas.CanvasState)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, aggregateID string, state canvas.CanvasState)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, aggregateID string, state canvas.CanvasState) {
	f(ctx, aggregateID, state)
}

// Validator checks payloads before they are appended.
// Implemented by schema.Validator.
type Validator interface {
	Check(p canvas.Payload) error
	Decode(eventType string, data []byte) (canvas.Payload, error)
}

// AppendResult is the outcome of a successful append.
type AppendResult struct {
	EventID string             `json:"eventId"`
	Version int64              `json:"version"`
	State   canvas.CanvasState `json:"state"`
}

// Coordinator serializes writes per aggregate and materializes states.
//
// Thread-safety: all methods are safe for concurrent use.
type Coordinator struct {
	events    store.EventLog
	snapshots store.SnapshotStore
	lanes     *lanes

	interval  int64
	ids       IDGenerator
	now       func() time.Time
	logger    *slog.Logger
	notifier  Notifier
	tracer    trace.Tracer
	validator Validator

	snapshotFailures atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSnapshotInterval sets how many events separate snapshots.
//
// Default: 10 (canvas.DefaultSnapshotInterval). Values below 1 are ignored.
func WithSnapshotInterval(k int64) Option {
	return func(c *Coordinator) {
		if k >= 1 {
			c.interval = k
		}
	}
}

// WithIDGenerator sets the event id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithClock sets the source of event and snapshot timestamps.
// Default: time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier registers the post-append callback.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithTracer sets the tracer. Default: otel.Tracer(TracerName), which is a
// no-op until a global provider is installed.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithValidator enables payload validation on every append.
func WithValidator(v Validator) Option {
	return func(c *Coordinator) {
		c.validator = v
	}
}

// New creates a Coordinator over the given stores.
func New(events store.EventLog, snapshots store.SnapshotStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		events:    events,
		snapshots: snapshots,
		lanes:     newLanes(),
		interval:  canvas.DefaultSnapshotInterval,
		ids:       UUIDv7Generator{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
		tracer:    otel.Tracer(TracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SnapshotInterval returns the configured interval.
func (c *Coordinator) SnapshotInterval() int64 {
	return c.interval
}

// SnapshotFailures returns how many snapshot saves have failed since New.
func (c *Coordinator) SnapshotFailures() int64 {
	return c.snapshotFailures.Load()
}

func (c *Coordinator) startSpan(ctx context.Context, name, aggregateID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("canvas.aggregate_id", aggregateID))
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		code := string(canvas.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
		span.SetAttributes(attribute.String("canvas.error_code", code))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
