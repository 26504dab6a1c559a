package egress

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/FerroO2000/spilink/internal/config"
)

// Default values for the log egress stage configuration.
const (
	DefaultLogConfigLevel      = slog.LevelInfo
	DefaultLogConfigMaxPayload = 256
)

// LogConfig structs contains the configuration for the log egress stage.
type LogConfig struct {
	// Level is the level of the log record of every message.
	Level slog.Level

	// MaxPayload is the number of payload bytes logged.
	// Longer payloads are truncated.
	MaxPayload int
}

// NewLogConfig returns the default configuration for the log egress stage.
func NewLogConfig() *LogConfig {
	return &LogConfig{
		Level:      DefaultLogConfigLevel,
		MaxPayload: DefaultLogConfigMaxPayload,
	}
}

// Validate checks the configuration.
func (c *LogConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotLower(ac, "MaxPayload", &c.MaxPayload, 1)
}

type logWorker[T msgTop] struct {
	baseWorker

	cfg *LogConfig
}

func newLogWorkerInstMaker[T msgTop]() workerInstanceMaker[*LogConfig, T] {
	return func() workerInstance[*LogConfig, T] {
		return &logWorker[T]{}
	}
}

func (lw *logWorker[T]) Init(_ context.Context, cfg *LogConfig) error {
	lw.cfg = cfg
	return nil
}

func (lw *logWorker[T]) Deliver(_ context.Context, msgIn *msg[T]) error {
	record := msgIn.GetEnvelope()

	payload := record.GetPayload()
	size := len(payload)
	if size > lw.cfg.MaxPayload {
		payload = payload[:lw.cfg.MaxPayload]
	}

	args := []any{"topic", record.GetTopic(), "payload", strconv.Quote(string(payload)), "size", size}

	switch {
	case lw.cfg.Level >= slog.LevelWarn:
		lw.tel.LogWarn("record", args...)
	case lw.cfg.Level >= slog.LevelInfo:
		lw.tel.LogInfo("record", args...)
	default:
		lw.tel.LogDebug("record", args...)
	}

	return nil
}

func (lw *logWorker[T]) Close(_ context.Context) error { return nil }

// LogStage is an egress stage that logs every record.
type LogStage[T msgTop] struct {
	*stage[*LogConfig, T, *LogConfig]
}

// NewLogStage returns a new log egress stage.
func NewLogStage[T msgTop](inputConnector msgConn[T], cfg *LogConfig) *LogStage[T] {
	return &LogStage[T]{
		stage: newStage("log", inputConnector, newLogWorkerInstMaker[T](), cfg),
	}
}

// Init initializes the stage.
func (ls *LogStage[T]) Init(ctx context.Context) error {
	return ls.stage.Init(ctx, ls.config)
}
