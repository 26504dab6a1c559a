package egress

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

type workerInstance[Args any, In msgEnv] interface {
	Init(ctx context.Context, args Args) error
	Close(ctx context.Context) error
	SetTelemetry(tel *internal.Telemetry)
	Deliver(ctx context.Context, task *msg[In]) error
}

type workerInstanceMaker[Args any, In msgEnv] func() workerInstance[Args, In]

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

	deliveredMessages atomic.Int64
	deliveringErrors  atomic.Int64

	totMsgProcessingTime *internal.Histogram
}

func newWorkerMetrics(tel *internal.Telemetry) *workerMetrics {
	return &workerMetrics{
		tel: tel,
	}
}

func (wm *workerMetrics) init() {
	wm.tel.NewCounter("delivered_messages", func() int64 { return wm.deliveredMessages.Load() })
	wm.tel.NewCounter("delivering_errors", func() int64 { return wm.deliveringErrors.Load() })

	wm.totMsgProcessingTime = wm.tel.NewHistogram("total_message_processing_time", metric.WithUnit("ms"))
}

func (wm *workerMetrics) recordTotalMessageProcessingTime(ctx context.Context, recvTime time.Time) {
	if recvTime.IsZero() {
		return
	}

	wm.totMsgProcessingTime.Record(ctx, time.Since(recvTime).Milliseconds())
}

//////////////
//  WORKER  //
//////////////

type worker[Args any, In msgEnv] struct {
	tel *internal.Telemetry

	inst workerInstance[Args, In]

	metrics *workerMetrics
}

func newWorker[Args any, In msgEnv](
	tel *internal.Telemetry, inst workerInstance[Args, In], metrics *workerMetrics,
) *worker[Args, In] {

	return &worker[Args, In]{
		tel: tel,

		inst: inst,

		metrics: metrics,
	}
}

func (w *worker[Args, In]) init(ctx context.Context, args Args) error {
	w.inst.SetTelemetry(w.tel)

	if err := w.inst.Init(ctx, args); err != nil {
		w.tel.LogError("failed to init worker", err)
		return err
	}

	return nil
}

func (w *worker[Args, In]) deliver(ctx context.Context, msgIn *msg[In]) {
	defer msgIn.Destroy()

	// Extract the span context from the input message
	ctx = msgIn.LoadSpanContext(ctx)

	if err := w.inst.Deliver(ctx, msgIn); err != nil {
		w.tel.LogError("failed to deliver message", err)
		w.metrics.deliveringErrors.Add(1)
		return
	}

	w.metrics.deliveredMessages.Add(1)
	w.metrics.recordTotalMessageProcessingTime(ctx, msgIn.GetReceiveTime())
}

func (w *worker[Args, In]) close(ctx context.Context) {
	if err := w.inst.Close(ctx); err != nil {
		w.tel.LogError("failed to close worker", err)
	}
}
