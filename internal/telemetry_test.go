package internal

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FanOutHandler(t *testing.T) {
	assert := assert.New(t)

	first := &bytes.Buffer{}
	second := &bytes.Buffer{}

	handler := newFanOutHandler(
		slog.NewTextHandler(first, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(second, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)

	logger := slog.New(handler).With("kind", "processor")

	logger.Info("relayed")
	logger.Warn("dropped")

	assert.Contains(first.String(), "relayed")
	assert.Contains(first.String(), "dropped")
	assert.Contains(first.String(), "kind=processor")

	assert.NotContains(second.String(), "relayed")
	assert.Contains(second.String(), "dropped")

	assert.True(handler.Enabled(context.Background(), slog.LevelDebug))
}

func Test_LeveledHandler(t *testing.T) {
	assert := assert.New(t)

	prev := GetLogLevel()
	defer SetLogLevel(prev)

	buf := &bytes.Buffer{}
	handler := &leveledHandler{
		Handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}

	SetLogLevel(slog.LevelWarn)
	assert.False(handler.Enabled(context.Background(), slog.LevelInfo))
	assert.True(handler.Enabled(context.Background(), slog.LevelError))

	SetLogLevel(slog.LevelDebug)
	assert.True(handler.Enabled(context.Background(), slog.LevelInfo))
}

func Test_Telemetry(t *testing.T) {
	assert := assert.New(t)

	buf := &bytes.Buffer{}
	SetLogHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	defer SetLogHandler(NewLogHandler(os.Stderr))

	tel := NewTelemetry("processor", "relay")
	assert.Equal("processor", tel.Kind())
	assert.Equal("relay", tel.Name())

	tel.LogInfo("running", "pool_size", 4)
	tel.LogError("failed to submit chunk", errors.New("no space"))

	assert.Contains(buf.String(), "name=relay")
	assert.Contains(buf.String(), "pool_size=4")
	assert.Contains(buf.String(), "no space")

	// The no-op global providers must not break the instruments
	tel.NewCounter("sent_chunks", func() int64 { return 1 })
	tel.NewUpDownCounter("pending_transfers", func() int64 { return 0 })
	tel.NewHistogram("relay_latency").Record(t.Context(), 3)

	ctx, span := tel.NewTrace(t.Context(), "relay record")
	assert.NotNil(ctx)
	span.End()

	var nilHistogram *Histogram
	nilHistogram.Record(t.Context(), 1)
}
