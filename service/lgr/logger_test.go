package lgr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestConsoleHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo)).With(slog.String("svc", "worker"))

	logger.Debug("hidden")
	logger.Info("frame processed", slog.Int("boxes", 2))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO: frame processed")
	assert.Contains(t, out, `"boxes":2`)
	assert.Contains(t, out, `"svc":"worker"`)
}

func TestTraceAddsStack(t *testing.T) {
	assert.Nil(t, Trace(nil))

	err := Trace(errors.New("boom"))
	require.Error(t, err)

	a := replaceAttr(nil, slog.Any("error", err))
	require.Equal(t, slog.KindGroup, a.Value.Kind())

	attrs := a.Value.Group()
	require.Len(t, attrs, 2)
	assert.Equal(t, "boom", attrs[0].Value.String())
	assert.NotEmpty(t, attrs[1].Value.Any())
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(&traceHandler{next: newConsoleHandler(&buf, slog.LevelInfo)})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:  trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "traced")
	assert.Contains(t, buf.String(), sc.TraceID().String())
	assert.Contains(t, buf.String(), sc.SpanID().String())
}
