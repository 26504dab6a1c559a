// Package internal contains the telemetry shared by all the stages.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/FerroO2000/spilink"

///////////////
//  LOGGING  //
///////////////

var (
	logLevel   = new(slog.LevelVar)
	rootLogger atomic.Pointer[slog.Logger]
)

func init() {
	rootLogger.Store(slog.New(NewLogHandler(os.Stderr)))
}

// NewLogHandler returns a tint handler writing into the file.
// Colors are enabled only when the file is a terminal.
func NewLogHandler(file *os.File) slog.Handler {
	return tint.NewHandler(colorable.NewColorable(file), &tint.Options{
		Level:      logLevel,
		TimeFormat: time.StampMilli,
		NoColor:    !isatty.IsTerminal(file.Fd()) && !isatty.IsCygwinTerminal(file.Fd()),
	})
}

// SetLogLevel sets the level of every logger.
// It can be called at any time.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLogLevel returns the current log level.
func GetLogLevel() slog.Level {
	return logLevel.Level()
}

// SetLogHandler replaces the root log handler.
// Only the telemetry created afterwards uses it.
func SetLogHandler(handler slog.Handler) {
	rootLogger.Store(slog.New(handler))
}

// EnableOTelLogs forwards the logs also to the global OpenTelemetry
// logger provider, through the otelslog bridge.
func EnableOTelLogs(serviceName string) {
	base := rootLogger.Load().Handler()
	bridge := otelslog.NewHandler(serviceName)

	SetLogHandler(newFanOutHandler(base, &leveledHandler{Handler: bridge}))
}

// leveledHandler applies the global log level to a handler without one.
type leveledHandler struct {
	slog.Handler
}

func (h *leveledHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= logLevel.Level() && h.Handler.Enabled(ctx, level)
}

func (h *leveledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveledHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *leveledHandler) WithGroup(name string) slog.Handler {
	return &leveledHandler{Handler: h.Handler.WithGroup(name)}
}

type fanOutHandler struct {
	handlers []slog.Handler
}

func newFanOutHandler(handlers ...slog.Handler) *fanOutHandler {
	return &fanOutHandler{handlers: handlers}
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanOutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error

	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler.WithAttrs(attrs))
	}
	return newFanOutHandler(handlers...)
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler.WithGroup(name))
	}
	return newFanOutHandler(handlers...)
}

/////////////////
//  TELEMETRY  //
/////////////////

// Telemetry bundles the logger, the tracer and the meter of a stage
// (or of any other component of the pipeline).
type Telemetry struct {
	kind string
	name string

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	attrs metric.MeasurementOption
}

// NewTelemetry returns the telemetry of a component of the given kind
// (ingress, processor, egress, ...) and name.
func NewTelemetry(kind, name string) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		logger: rootLogger.Load().With("kind", kind, "name", name),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),

		attrs: metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
		),
	}
}

// Kind returns the kind of the component.
func (t *Telemetry) Kind() string {
	return t.kind
}

// Name returns the name of the component.
func (t *Telemetry) Name() string {
	return t.name
}

// LogDebug logs a debug message.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs an error message with the given error.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{tint.Err(err)}, args...)...)
}

func (t *Telemetry) metricName(name string) string {
	return fmt.Sprintf("%s.%s.%s", t.kind, t.name, name)
}

// NewCounter registers an observable counter reading its value from fn.
func (t *Telemetry) NewCounter(name string, fn func() int64) {
	_, err := t.meter.Int64ObservableCounter(t.metricName(name),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn(), t.attrs)
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
	}
}

// NewUpDownCounter registers an observable up/down counter reading its value from fn.
func (t *Telemetry) NewUpDownCounter(name string, fn func() int64) {
	_, err := t.meter.Int64ObservableUpDownCounter(t.metricName(name),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn(), t.attrs)
			return nil
		}),
	)

	if err != nil {
		t.LogError("failed to create up/down counter", err, "counter", name)
	}
}

// Histogram is an int64 histogram bound to a component.
type Histogram struct {
	histogram metric.Int64Histogram
	attrs     metric.MeasurementOption
}

// Record records a value.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h == nil || h.histogram == nil {
		return
	}
	h.histogram.Record(ctx, value, h.attrs)
}

// NewHistogram returns a new histogram.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) *Histogram {
	histogram, err := t.meter.Int64Histogram(t.metricName(name), opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "histogram", name)
	}

	return &Histogram{
		histogram: histogram,
		attrs:     t.attrs,
	}
}

// NewTrace starts a new span.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("kind", t.kind),
			attribute.String("name", t.name),
		),
	)
}

// InjectTrace injects the span context into the carrier.
func (t *Telemetry) InjectTrace(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext returns a context holding the span context of the carrier.
func (t *Telemetry) ExtractTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
