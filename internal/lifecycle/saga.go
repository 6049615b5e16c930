package lifecycle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/apperr"
	"github.com/fyrsmithlabs/collectiond/internal/events"
	"github.com/fyrsmithlabs/collectiond/internal/logging"
)

// Saga names.
const (
	SagaCreateCollection = "create_collection"
	SagaUpdateCollection = "update_collection"
	SagaDeleteCollection = "delete_collection"
	SagaIngestFile       = "ingest_file"
	SagaIngestBatch      = "ingest_batch"
	SagaDeleteFile       = "delete_file"
)

// Stores named in warnings and logs.
const (
	StoreBlob         = "blob"
	StoreFileCatalog  = "file_catalog"
	StoreChunkStore   = "chunk_store"
	StoreRegistry     = "registry"
	StoreVectorEngine = "vector_engine"
	StoreChunker      = "chunker"
)

// Saga outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeNoop    = "noop"
	OutcomeFailed  = "failed"
)

// Warning names a store whose step failed without failing the saga.
type Warning struct {
	Store   string `json:"store"`
	Message string `json:"message"`
}

// run tracks one saga: its span, journal handle and collected warnings.
type run struct {
	name     string
	span     trace.Span
	journal  *events.Saga
	logger   *logging.Logger
	warnings []Warning
	finished bool
}

func (c *Coordinator) begin(ctx context.Context, name, owner, resourceID string, fields ...zap.Field) (context.Context, *run) {
	ctx, span := tracer.Start(ctx, "Coordinator."+name)
	span.SetAttributes(
		attribute.String("saga", name),
		attribute.String("resource_id", resourceID),
	)
	r := &run{
		name:    name,
		span:    span,
		journal: c.journal.Begin(ctx, name, owner, resourceID),
		logger:  c.logger.With(append(fields, zap.String("saga", name))...),
	}
	return ctx, r
}

// step records a completed step.
func (r *run) step(step, store string) {
	r.span.AddEvent(step, trace.WithAttributes(attribute.String("store", store)))
	r.journal.Step(step, store)
}

// warn records a failed step and lets the saga continue.
func (r *run) warn(ctx context.Context, step, store string, err error, fields ...zap.Field) {
	msg := step + " failed"
	if public := apperr.PublicMessage(err); public != apperr.ErrInternal.Error() {
		msg = step + ": " + public
	}
	r.warnings = append(r.warnings, Warning{Store: store, Message: msg})
	StepFailuresTotal.WithLabelValues(r.name, store).Inc()
	r.span.RecordError(err, trace.WithAttributes(attribute.String("store", store)))
	r.journal.Warning(step, store, msg)
	r.logger.Warn(ctx, "saga step failed",
		append(fields,
			zap.String("step", step),
			zap.String("store", store),
			zap.Error(err),
		)...,
	)
}

// fail ends the saga with an error and returns it.
func (r *run) fail(err error) error {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.end(OutcomeFailed)
	return err
}

// done ends the saga successfully, or as partial when warnings were
// collected.
func (r *run) done(noop bool) {
	switch {
	case len(r.warnings) > 0:
		r.end(OutcomePartial)
	case noop:
		r.end(OutcomeNoop)
	default:
		r.end(OutcomeSuccess)
	}
}

func (r *run) end(outcome string) {
	if r.finished {
		return
	}
	r.finished = true
	if outcome != OutcomeFailed {
		r.span.SetStatus(codes.Ok, outcome)
	}
	r.span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("warnings", len(r.warnings)),
	)
	SagaTotal.WithLabelValues(r.name, outcome).Inc()
	r.journal.Complete(outcome)
	r.span.End()
}
