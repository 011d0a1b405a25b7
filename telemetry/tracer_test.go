package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func newJSONLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestTracerProviderLogsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp := NewTracerProvider("storygen-test", newJSONLogger(&buf, slog.LevelDebug))
	defer tp.Shutdown(context.Background())

	tracer := Tracer(tp, "test")
	ctx, parent := tracer.Start(context.Background(), "Service.Continue")
	_, child := tracer.Start(ctx, "Store.Save")
	child.SetAttributes(
		attribute.String("session.id", "s-1"),
		attribute.Int("turns", 3),
	)
	child.End()
	parent.End()

	recs := records(t, &buf)
	require.Len(t, recs, 2)

	assert.Equal(t, "Store.Save", recs[0]["name"])
	assert.Equal(t, "trace", recs[0]["component"])
	assert.NotEmpty(t, recs[0]["parent_span_id"])
	attrs, ok := recs[0]["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s-1", attrs["session.id"])
	assert.EqualValues(t, 3, attrs["turns"])

	assert.Equal(t, "Service.Continue", recs[1]["name"])
	assert.Equal(t, recs[0]["trace_id"], recs[1]["trace_id"])
	assert.NotContains(t, recs[1], "parent_span_id")
}

func TestExporterLevels(t *testing.T) {
	var buf bytes.Buffer
	tp := NewTracerProvider("", newJSONLogger(&buf, slog.LevelWarn))
	defer tp.Shutdown(context.Background())

	tracer := Tracer(tp, "test")

	_, ok := tracer.Start(context.Background(), "quiet")
	ok.End()

	_, failed := tracer.Start(context.Background(), "loud")
	failed.RecordError(errors.New("boom"))
	failed.SetStatus(codes.Error, "boom")
	failed.End()

	recs := records(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "loud", recs[0]["name"])
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "boom", recs[0]["status"])
}
