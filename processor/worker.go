package processor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"go.opentelemetry.io/otel/metric"
)

////////////////
//  INSTANCE  //
////////////////

type workerInstance[Args any, In, Out msgEnv] interface {
	Init(ctx context.Context, args Args) error
	Close(ctx context.Context) error
	SetTelemetry(tel *internal.Telemetry)
	Handle(ctx context.Context, task *msg[In]) (*msg[Out], error)
}

type workerInstanceMaker[Args any, In, Out msgEnv] func() workerInstance[Args, In, Out]

// baseWorker is embedded by the worker instances
// to receive the telemetry of their stage.
type baseWorker struct {
	tel *internal.Telemetry
}

func (bw *baseWorker) SetTelemetry(tel *internal.Telemetry) {
	bw.tel = tel
}

///////////////
//  METRICS  //
///////////////

type workerMetrics struct {
	tel *internal.Telemetry

	processedMessages atomic.Int64
	droppedMessages   atomic.Int64
	processingErrors  atomic.Int64

	// Time spent by the instance on a single message
	handleTime *internal.Histogram
}

func newWorkerMetrics(tel *internal.Telemetry) *workerMetrics {
	return &workerMetrics{
		tel: tel,
	}
}

func (wm *workerMetrics) init() {
	wm.tel.NewCounter("processed_messages", func() int64 { return wm.processedMessages.Load() })
	wm.tel.NewCounter("dropped_messages", func() int64 { return wm.droppedMessages.Load() })
	wm.tel.NewCounter("processing_errors", func() int64 { return wm.processingErrors.Load() })

	wm.handleTime = wm.tel.NewHistogram("message_handle_time", metric.WithUnit("us"))
}

//////////////
//  WORKER  //
//////////////

type worker[Args any, In, Out msgEnv] struct {
	tel *internal.Telemetry

	inst workerInstance[Args, In, Out]

	metrics *workerMetrics
}

func newWorker[Args any, In, Out msgEnv](
	tel *internal.Telemetry, inst workerInstance[Args, In, Out], metrics *workerMetrics,
) *worker[Args, In, Out] {
	return &worker[Args, In, Out]{
		tel: tel,

		inst: inst,

		metrics: metrics,
	}
}

func (w *worker[Args, In, Out]) init(ctx context.Context, args Args) error {
	w.inst.SetTelemetry(w.tel)

	if err := w.inst.Init(ctx, args); err != nil {
		w.tel.LogError("failed to init worker", err)
		return err
	}

	return nil
}

// process hands the message to the instance.
// The returned message is valid only if the boolean is true.
func (w *worker[Args, In, Out]) process(ctx context.Context, msgIn *msg[In]) (*msg[Out], bool) {
	w.metrics.processedMessages.Add(1)

	// Extract the span context from the input message
	ctx = msgIn.LoadSpanContext(ctx)

	start := time.Now()
	msgOut, err := w.inst.Handle(ctx, msgIn)
	w.metrics.handleTime.Record(ctx, time.Since(start).Microseconds())

	if err != nil {
		w.tel.LogError("failed to process message", err)
		w.metrics.processingErrors.Add(1)

		msgIn.Destroy()
		return nil, false
	}

	if msgOut.IsDropped() {
		w.metrics.droppedMessages.Add(1)

		msgOut.Destroy()
		return nil, false
	}

	// Set the receive time and timestamp
	msgOut.SetReceiveTime(msgIn.GetReceiveTime())
	msgOut.SetTimestamp(msgIn.GetTimestamp())

	return msgOut, true
}

func (w *worker[Args, In, Out]) close(ctx context.Context) {
	if err := w.inst.Close(ctx); err != nil {
		w.tel.LogError("failed to close worker", err)
	}
}
