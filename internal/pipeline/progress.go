package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/radiodrama/internal/bus"
	"github.com/loqalabs/radiodrama/internal/eventstore"
	"github.com/loqalabs/radiodrama/internal/protocol"
	"go.opentelemetry.io/otel/trace"
)

// Recorder fans progress out to the event store and the bus. Both sinks are
// optional and failures are only logged.
type Recorder struct {
	events *eventstore.Store
	bus    *bus.Client
	logger *slog.Logger
	clock  func() time.Time
}

func NewRecorder(events *eventstore.Store, busClient *bus.Client, logger *slog.Logger) *Recorder {
	return &Recorder{
		events: events,
		bus:    busClient,
		logger: logger.With(slog.String("component", "progress")),
		clock:  time.Now,
	}
}

// Begin marks a run as started.
func (r *Recorder) Begin(ctx context.Context, runID, source string) {
	r.status(ctx, runID, source, "running")
}

// Finish marks a run done, or failed when err is non-nil.
func (r *Recorder) Finish(ctx context.Context, runID, source string, err error) {
	status := "done"
	if err != nil {
		status = "failed"
	}
	r.status(ctx, runID, source, status)
}

func (r *Recorder) status(ctx context.Context, runID, source, status string) {
	if r == nil {
		return
	}
	if err := r.events.AppendRun(ctx, runID, source, status); err != nil {
		r.logger.Warn("failed to record run", slog.String("run_id", runID), slog.String("error", err.Error()))
	}
}

// Record stores p and publishes it on the stage's progress subject.
func (r *Recorder) Record(ctx context.Context, p protocol.Progress) {
	if r == nil {
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = r.clock().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		r.logger.Warn("failed to encode progress", slog.String("error", err.Error()))
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := r.events.AppendEvent(ctx, eventstore.Event{
		RunID:     p.RunID,
		TraceID:   traceID,
		Stage:     p.Stage,
		Type:      p.Event,
		Payload:   payload,
		CreatedAt: p.Timestamp,
	}); err != nil {
		r.logger.Warn("failed to store progress", slog.String("error", err.Error()))
	}
	if err := r.bus.PublishJSON(protocol.ProgressSubject(p.Stage), p); err != nil {
		r.logger.Warn("failed to publish progress", slog.String("error", err.Error()))
	}
	r.logger.Debug("progress",
		slog.String("run_id", p.RunID),
		slog.String("stage", p.Stage),
		slog.String("event", p.Event),
		slog.Int("index", p.Index),
		slog.Int("total", p.Total))
}
