package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mornew/gallery"

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartServiceSpan starts a span for pipeline component operations
func StartServiceSpan(ctx context.Context, component, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", component, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", component),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceDB wraps sql.DB with tracing
type TraceDB struct {
	db     *sql.DB
	system string
}

// NewTraceDB creates a traced database wrapper. system identifies the
// database flavor in span attributes ("postgresql", "sqlite").
func NewTraceDB(db *sql.DB, system string) *TraceDB {
	return &TraceDB{db: db, system: system}
}

// QueryContext executes a query with tracing
func (t *TraceDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := StartSpan(ctx, "DB Query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	rows, err := t.db.QueryContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return rows, err
}

// ExecContext executes a statement with tracing
func (t *TraceDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := StartSpan(ctx, "DB Exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.db.ExecContext(ctx, query, args...)
	duration := time.Since(start)

	if err != nil {
		RecordError(span, err)
	} else {
		SetSuccess(span)
		if rowsAffected, raErr := result.RowsAffected(); raErr == nil {
			span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
		}
	}

	span.SetAttributes(attribute.Int64("db.query_duration_ms", duration.Milliseconds()))

	return result, err
}

// QueryRowContext executes a query that returns a single row with tracing
func (t *TraceDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	ctx, span := StartSpan(ctx, "DB QueryRow",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.statement", truncateQuery(query)),
		),
	)

	row := t.db.QueryRowContext(ctx, query, args...)
	span.End()
	return row
}

// DB returns the underlying database connection
func (t *TraceDB) DB() *sql.DB {
	return t.db
}

func truncateQuery(query string) string {
	if len(query) > 500 {
		return query[:500] + "..."
	}
	return query
}

// PipelineMetrics holds upload pipeline metrics
type PipelineMetrics struct {
	uploads        metric.Int64Counter
	dedupSkips     metric.Int64Counter
	uploadFailures metric.Int64Counter
	bytesSaved     metric.Int64Counter
	mergeOps       metric.Int64Counter
	auditRuns      metric.Int64Counter
}

// NewPipelineMetrics creates pipeline metrics instruments
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter(instrumentationName)

	uploads, err := meter.Int64Counter(
		"gallery.upload.count",
		metric.WithDescription("Total number of completed item uploads"),
		metric.WithUnit("{uploads}"),
	)
	if err != nil {
		return nil, err
	}

	dedupSkips, err := meter.Int64Counter(
		"gallery.upload.dedup_skips",
		metric.WithDescription("Uploads skipped because an identical item already exists"),
		metric.WithUnit("{skips}"),
	)
	if err != nil {
		return nil, err
	}

	uploadFailures, err := meter.Int64Counter(
		"gallery.upload.failures",
		metric.WithDescription("Per-file upload failures"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		return nil, err
	}

	bytesSaved, err := meter.Int64Counter(
		"gallery.compress.bytes_saved",
		metric.WithDescription("Bytes removed by pre-upload compression"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mergeOps, err := meter.Int64Counter(
		"gallery.sync.merge_ops",
		metric.WithDescription("Change events merged into the local gallery view"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	auditRuns, err := meter.Int64Counter(
		"gallery.audit.runs",
		metric.WithDescription("Duplicate audit executions"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		uploads:        uploads,
		dedupSkips:     dedupSkips,
		uploadFailures: uploadFailures,
		bytesSaved:     bytesSaved,
		mergeOps:       mergeOps,
		auditRuns:      auditRuns,
	}, nil
}

// RecordUpload records a completed item upload
func (m *PipelineMetrics) RecordUpload(ctx context.Context, uploaderName string, fileSize int64) {
	m.uploads.Add(ctx, 1, metric.WithAttributes(
		UploaderName(uploaderName),
		attribute.Int64("file_size", fileSize),
	))
}

// RecordDedupSkip records an upload skipped by the duplicate check
func (m *PipelineMetrics) RecordDedupSkip(ctx context.Context, uploaderName string) {
	m.dedupSkips.Add(ctx, 1, metric.WithAttributes(UploaderName(uploaderName)))
}

// RecordUploadFailure records a per-file upload failure
func (m *PipelineMetrics) RecordUploadFailure(ctx context.Context, uploaderName string) {
	m.uploadFailures.Add(ctx, 1, metric.WithAttributes(UploaderName(uploaderName)))
}

// RecordCompression records the byte savings of one compression
func (m *PipelineMetrics) RecordCompression(ctx context.Context, before, after int64) {
	if before > after {
		m.bytesSaved.Add(ctx, before-after)
	}
}

// RecordMergeOp records one merge into the local view
func (m *PipelineMetrics) RecordMergeOp(ctx context.Context, opType string) {
	m.mergeOps.Add(ctx, 1, metric.WithAttributes(Operation(opType)))
}

// RecordAuditRun records a duplicate audit execution
func (m *PipelineMetrics) RecordAuditRun(ctx context.Context, groupCount int) {
	m.auditRuns.Add(ctx, 1, metric.WithAttributes(attribute.Int("group_count", groupCount)))
}
