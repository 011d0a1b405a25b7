package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SlogSpanExporter implements sdktrace.SpanExporter by logging each span as
// one structured record. Failed spans log at WARN, the rest at DEBUG.
type SlogSpanExporter struct {
	logger *slog.Logger
}

// NewSlogSpanExporter creates an exporter writing to logger.
func NewSlogSpanExporter(logger *slog.Logger) *SlogSpanExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSpanExporter{logger: logger.With("component", "trace")}
}

// ExportSpans implements sdktrace.SpanExporter. It never fails.
func (e *SlogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		level := slog.LevelDebug
		if span.Status().Code == codes.Error {
			level = slog.LevelWarn
		}
		if !e.logger.Enabled(ctx, level) {
			continue
		}
		e.logger.LogAttrs(ctx, level, "span", spanAttrs(span)...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *SlogSpanExporter) Shutdown(context.Context) error {
	return nil
}

func spanAttrs(span sdktrace.ReadOnlySpan) []slog.Attr {
	sc := span.SpanContext()
	attrs := []slog.Attr{
		slog.String("name", span.Name()),
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
		slog.Duration("duration", span.EndTime().Sub(span.StartTime())),
	}
	if span.Parent().IsValid() {
		attrs = append(attrs, slog.String("parent_span_id", span.Parent().SpanID().String()))
	}
	if st := span.Status(); st.Code == codes.Error {
		attrs = append(attrs, slog.String("status", st.Description))
	}
	if kvs := span.Attributes(); len(kvs) > 0 {
		group := make([]any, 0, len(kvs))
		for _, kv := range kvs {
			group = append(group, attrValue(kv))
		}
		attrs = append(attrs, slog.Group("attributes", group...))
	}
	return attrs
}

func attrValue(kv attribute.KeyValue) slog.Attr {
	key := string(kv.Key)
	switch kv.Value.Type() {
	case attribute.BOOL:
		return slog.Bool(key, kv.Value.AsBool())
	case attribute.INT64:
		return slog.Int64(key, kv.Value.AsInt64())
	case attribute.FLOAT64:
		return slog.Float64(key, kv.Value.AsFloat64())
	case attribute.STRING:
		return slog.String(key, kv.Value.AsString())
	default:
		return slog.String(key, kv.Value.Emit())
	}
}
