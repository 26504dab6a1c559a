package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/chunk"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/message"
	"github.com/FerroO2000/spilink/internal/xfer"
	"github.com/FerroO2000/spilink/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the relay stage configuration.
const (
	DefaultRelayConfigPoolSize           = 4
	DefaultRelayConfigChunkLength        = 32
	DefaultRelayConfigReceiveTimeout     = time.Millisecond
	DefaultRelayConfigIdleReceiveTimeout = 100 * time.Millisecond
	DefaultRelayConfigSubmitTimeout      = time.Millisecond
	DefaultRelayConfigPollTimeout        = time.Millisecond
	DefaultRelayConfigDeliverTimeout     = 10 * time.Millisecond
	DefaultRelayConfigMaxMessageSize     = 1024
	DefaultRelayConfigCompletedBacklog   = 8
	DefaultRelayConfigGreetingTopic      = "ping"
	DefaultRelayConfigGreetingPayload    = "ready"
	DefaultRelayConfigSendGreeting       = true
)

// RelayConfig structs contains the configuration for the [RelayStage].
type RelayConfig struct {
	// PoolSize is the number of transfer descriptors.
	PoolSize int

	// ChunkLength is the length of every transfer.
	// It must be a multiple of 4.
	ChunkLength int

	// ReceiveTimeout is how long the relay waits for an inbound record
	// while some transfers are pending.
	ReceiveTimeout time.Duration

	// IdleReceiveTimeout is how long the relay waits for an inbound record
	// when no transfer is pending.
	IdleReceiveTimeout time.Duration

	// SubmitTimeout is how long a chunk submission can wait
	// for the transport to have space.
	SubmitTimeout time.Duration

	// PollTimeout is how long the relay waits for a completed transfer.
	PollTimeout time.Duration

	// DeliverTimeout is how long a reassembled record waits for space
	// in the output connector before being dropped.
	DeliverTimeout time.Duration

	// MaxMessageSize is the maximum size of a reassembled record.
	MaxMessageSize int

	// CompletedBacklog is the number of reassembled records
	// that can wait to be delivered.
	CompletedBacklog int

	// GreetingTopic and GreetingPayload form the record relayed
	// before anything else, if SendGreeting is set.
	GreetingTopic   string
	GreetingPayload string
	SendGreeting    bool
}

// NewRelayConfig returns the default configuration for the [RelayStage].
func NewRelayConfig() *RelayConfig {
	return &RelayConfig{
		PoolSize:           DefaultRelayConfigPoolSize,
		ChunkLength:        DefaultRelayConfigChunkLength,
		ReceiveTimeout:     DefaultRelayConfigReceiveTimeout,
		IdleReceiveTimeout: DefaultRelayConfigIdleReceiveTimeout,
		SubmitTimeout:      DefaultRelayConfigSubmitTimeout,
		PollTimeout:        DefaultRelayConfigPollTimeout,
		DeliverTimeout:     DefaultRelayConfigDeliverTimeout,
		MaxMessageSize:     DefaultRelayConfigMaxMessageSize,
		CompletedBacklog:   DefaultRelayConfigCompletedBacklog,
		GreetingTopic:      DefaultRelayConfigGreetingTopic,
		GreetingPayload:    DefaultRelayConfigGreetingPayload,
		SendGreeting:       DefaultRelayConfigSendGreeting,
	}
}

// Validate checks the configuration.
func (c *RelayConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckInRange(ac, "PoolSize", &c.PoolSize, 1, 1024, DefaultRelayConfigPoolSize)

	config.CheckNotLower(ac, "ChunkLength", &c.ChunkLength, xfer.Alignment)
	config.CheckMultipleOf(ac, "ChunkLength", &c.ChunkLength, xfer.Alignment, DefaultRelayConfigChunkLength)

	config.CheckNotNegative(ac, "ReceiveTimeout", &c.ReceiveTimeout, DefaultRelayConfigReceiveTimeout)
	config.CheckNotNegative(ac, "IdleReceiveTimeout", &c.IdleReceiveTimeout, DefaultRelayConfigIdleReceiveTimeout)
	config.CheckNotLowerThan(ac, "IdleReceiveTimeout", "ReceiveTimeout", &c.IdleReceiveTimeout, c.ReceiveTimeout)
	config.CheckNotNegative(ac, "SubmitTimeout", &c.SubmitTimeout, DefaultRelayConfigSubmitTimeout)
	config.CheckNotNegative(ac, "PollTimeout", &c.PollTimeout, DefaultRelayConfigPollTimeout)
	config.CheckNotNegative(ac, "DeliverTimeout", &c.DeliverTimeout, DefaultRelayConfigDeliverTimeout)

	config.CheckNotLower(ac, "MaxMessageSize", &c.MaxMessageSize, 1)
	config.CheckInRange(ac, "CompletedBacklog", &c.CompletedBacklog, 1, 253, DefaultRelayConfigCompletedBacklog)

	if c.SendGreeting {
		config.CheckNotEmpty(ac, "GreetingTopic", &c.GreetingTopic, DefaultRelayConfigGreetingTopic)
	}
}

///////////////
//  MESSAGE  //
///////////////

var _ msgTop = (*RelayMessage)(nil)

var relayMessagePool = sync.Pool{
	New: func() any {
		return &RelayMessage{}
	},
}

// RelayMessage is a record reassembled from the transfers received
// from the remote peer.
type RelayMessage struct {
	Topic   string
	Payload []byte
}

func newRelayMessage(record []byte) *RelayMessage {
	topic, payload := chunk.Split(record)

	rm := relayMessagePool.Get().(*RelayMessage)
	rm.Topic = topic
	rm.Payload = append(rm.Payload[:0], payload...)

	return rm
}

// Destroy gives the message back to its pool.
func (rm *RelayMessage) Destroy() {
	rm.Topic = ""
	rm.Payload = rm.Payload[:0]
	relayMessagePool.Put(rm)
}

// GetTopic returns the topic of the record.
func (rm *RelayMessage) GetTopic() string {
	return rm.Topic
}

// GetPayload returns the payload of the record.
func (rm *RelayMessage) GetPayload() []byte {
	return rm.Payload
}

// GetBytes returns the record encoded as "topic,payload".
func (rm *RelayMessage) GetBytes() []byte {
	buf := make([]byte, 0, len(rm.Topic)+1+len(rm.Payload))
	buf = append(buf, rm.Topic...)
	buf = append(buf, chunk.Delimiter)
	return append(buf, rm.Payload...)
}

///////////////
//  METRICS  //
///////////////

type relayMetrics struct {
	relayedMessages   atomic.Int64
	failedMessages    atomic.Int64
	completedXfers    atomic.Int64
	deliveredMessages atomic.Int64
	droppedMessages   atomic.Int64
	transportErrors   atomic.Int64

	latency *internal.Histogram
}

func (rm *relayMetrics) init(tel *internal.Telemetry, r *relay) {
	tel.NewCounter("relayed_messages", func() int64 { return rm.relayedMessages.Load() })
	tel.NewCounter("failed_messages", func() int64 { return rm.failedMessages.Load() })
	tel.NewCounter("completed_transfers", func() int64 { return rm.completedXfers.Load() })
	tel.NewCounter("reassembled_messages", func() int64 { return rm.deliveredMessages.Load() })
	tel.NewCounter("dropped_messages", func() int64 { return rm.droppedMessages.Load() })
	tel.NewCounter("transport_errors", func() int64 { return rm.transportErrors.Load() })

	tel.NewCounter("sent_chunks", func() int64 { return r.sender.SentChunks() })
	tel.NewCounter("submit_errors", func() int64 { return r.sender.SubmitErrors() })
	tel.NewCounter("pool_exhausted", func() int64 { return r.sender.PoolExhausted() })
	tel.NewCounter("oversized_messages", func() int64 { return r.reassembler.Oversized() })
	tel.NewCounter("backlog_dropped_messages", func() int64 { return r.reassembler.Dropped() })
	tel.NewCounter("handshake_errors", func() int64 { return r.pending.LineErrors() })

	tel.NewUpDownCounter("pending_transfers", func() int64 { return r.pending.Load() })
	tel.NewUpDownCounter("descriptors_in_use", func() int64 { return int64(r.pool.InUse()) })

	rm.latency = tel.NewHistogram("relay_latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Time between the reception of a record and the submission of its last chunk"),
	)
}

/////////////
//  RELAY  //
/////////////

// relay bundles the transfer machinery driven by the relay loop.
type relay struct {
	transport transport.Transport

	pool        *xfer.Pool
	pending     *chunk.Pending
	sender      *chunk.Sender
	reassembler *chunk.Reassembler
}

func newRelay(tr transport.Transport, line transport.HandshakeLine, c *RelayConfig) (*relay, error) {
	pool, err := xfer.NewPool(c.PoolSize, c.ChunkLength)
	if err != nil {
		return nil, err
	}

	reassembler, err := chunk.NewReassembler(c.MaxMessageSize, c.CompletedBacklog)
	if err != nil {
		pool.Close()
		return nil, err
	}

	pending := chunk.NewPending(line)

	return &relay{
		transport: tr,

		pool:        pool,
		pending:     pending,
		sender:      chunk.NewSender(pool, tr, pending, c.SubmitTimeout),
		reassembler: reassembler,
	}, nil
}

/////////////
//  STAGE  //
/////////////

// RelayStage is the processor stage forwarding the inbound records
// over a duplex transport, in chunks, and delivering the records
// reassembled from what the remote peer sends back.
//
// The stage runs a single loop: it waits a bounded time for an inbound record,
// sends it, then drains the completed transfers. While transfers are pending
// the wait is short, so completions are never starved by inbound waiting.
type RelayStage[T msgTop] struct {
	*stageBase[T, *RelayMessage]

	cfg *RelayConfig

	transport transport.Transport
	line      transport.HandshakeLine

	relay *relay

	metrics relayMetrics

	// Throttles the delivery warnings
	deliverLog rate.Sometimes
}

// NewRelayStage returns a new relay stage.
// The handshake line can be nil.
func NewRelayStage[T msgTop](
	inputConnector msgConn[T], outputConnector msgConn[*RelayMessage],
	tr transport.Transport, line transport.HandshakeLine, cfg *RelayConfig,
) *RelayStage[T] {

	return &RelayStage[T]{
		stageBase: newStageBase("relay", inputConnector, outputConnector),

		cfg: cfg,

		transport: tr,
		line:      line,

		deliverLog: rate.Sometimes{First: 1, Interval: time.Second},
	}
}

// Init initializes the stage.
func (rs *RelayStage[T]) Init(_ context.Context) error {
	rs.stageBase.init(rs.cfg)

	relay, err := newRelay(rs.transport, rs.line, rs.cfg)
	if err != nil {
		rs.tel.LogError("failed to create relay", err)
		return err
	}

	rs.relay = relay
	rs.metrics.init(rs.tel, relay)

	rs.tel.LogInfo("transfer pool ready",
		"pool_size", rs.cfg.PoolSize, "chunk_length", rs.cfg.ChunkLength)

	return nil
}

// Run runs the relay loop until the context is done,
// or the input connector is closed and every pending transfer completed.
func (rs *RelayStage[T]) Run(ctx context.Context) {
	rs.stageBase.run()

	// The descriptors are released when the loop stops
	defer rs.relay.pool.Close()

	if rs.cfg.SendGreeting {
		rs.send(ctx, rs.cfg.GreetingTopic, []byte(rs.cfg.GreetingPayload), time.Now())
	}

	inputClosed := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !inputClosed {
			inputClosed = rs.receive(ctx)
		}

		rs.drain(ctx)

		if inputClosed && rs.relay.pending.Load() == 0 {
			rs.tel.LogInfo("input connector is closed and drained, stopping")
			return
		}
	}
}

// receive waits for the next inbound record and sends it.
// It returns true if the input connector is closed.
func (rs *RelayStage[T]) receive(ctx context.Context) bool {
	timeout := rs.cfg.IdleReceiveTimeout
	if rs.relay.pending.Load() > 0 {
		timeout = rs.cfg.ReceiveTimeout
	}

	msgIn, err := rs.inputConnector.TryReceive(timeout)
	if err != nil {
		switch {
		case errors.Is(err, connector.ErrTimeout):
			// Nothing happened
		case errors.Is(err, connector.ErrClosed):
			return true
		default:
			rs.tel.LogError("failed to read from input connector", err)
		}

		return false
	}

	defer msgIn.Destroy()

	record := msgIn.GetEnvelope()
	rs.send(msgIn.LoadSpanContext(ctx), record.GetTopic(), record.GetPayload(), msgIn.GetReceiveTime())

	return false
}

func (rs *RelayStage[T]) send(ctx context.Context, topic string, payload []byte, recvTime time.Time) {
	ctx, span := rs.tel.NewTrace(ctx, "relay record")
	defer span.End()

	// Free the descriptors of the transfers already completed
	rs.drainReady(ctx)

	sent, err := rs.relay.sender.Send(topic, payload)

	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int("payload_size", len(payload)),
		attribute.Int("sent_chunks", sent),
	)

	if err != nil && !errors.Is(err, chunk.ErrHandshake) {
		rs.metrics.failedMessages.Add(1)

		span.RecordError(err)
		span.SetStatus(codes.Error, "relay failed")

		rs.tel.LogError("failed to relay record", err, "topic", topic, "sent_chunks", sent)
		return
	}

	if err != nil {
		rs.tel.LogWarn("failed to drive handshake line", "error", err)
	}

	rs.metrics.relayedMessages.Add(1)

	if !recvTime.IsZero() {
		rs.metrics.latency.Record(ctx, time.Since(recvTime).Milliseconds())
	}
}

// drain waits at most the poll timeout for a completed transfer,
// then handles every completed transfer without waiting.
func (rs *RelayStage[T]) drain(ctx context.Context) {
	if rs.relay.pending.Load() == 0 {
		return
	}

	desc, ok := rs.relay.transport.PollCompletion(rs.cfg.PollTimeout)
	if !ok {
		return
	}

	rs.complete(ctx, desc)
	rs.drainReady(ctx)
}

func (rs *RelayStage[T]) drainReady(ctx context.Context) {
	for rs.relay.pending.Load() > 0 {
		desc, ok := rs.relay.transport.PollCompletion(0)
		if !ok {
			return
		}

		rs.complete(ctx, desc)
	}
}

func (rs *RelayStage[T]) complete(ctx context.Context, desc *xfer.Descriptor) {
	rs.metrics.completedXfers.Add(1)

	rs.relay.reassembler.Feed(desc.Received())

	if err := rs.relay.sender.Complete(desc); err != nil {
		rs.metrics.transportErrors.Add(1)
		rs.tel.LogError("failed to complete transfer", err, "descriptor", desc.Index())
	}

	if rs.relay.reassembler.Overflowed() {
		rs.tel.LogWarn("reassembled records backlog is full, records dropped")
	}

	for {
		record, ok := rs.relay.reassembler.Next()
		if !ok {
			return
		}

		rs.deliver(ctx, record)
	}
}

func (rs *RelayStage[T]) deliver(ctx context.Context, record []byte) {
	_, span := rs.tel.NewTrace(ctx, "deliver record")
	defer span.End()

	msgOut := message.NewMessage(newRelayMessage(record))

	recvTime := time.Now()
	msgOut.SetReceiveTime(recvTime)
	msgOut.SetTimestamp(recvTime)

	span.SetAttributes(
		attribute.String("topic", msgOut.GetEnvelope().Topic),
		attribute.Int("record_size", len(record)),
	)
	msgOut.SaveSpan(span)

	if err := rs.outputConnector.TrySend(msgOut, rs.cfg.DeliverTimeout); err != nil {
		msgOut.Destroy()
		dropped := rs.metrics.droppedMessages.Add(1)

		rs.deliverLog.Do(func() {
			rs.tel.LogWarn("failed to deliver reassembled records", "error", err, "dropped_total", dropped)
		})
		return
	}

	rs.metrics.deliveredMessages.Add(1)
}

// Close closes the stage.
func (rs *RelayStage[T]) Close() {
	rs.stageBase.close()
}

// Pending returns the number of submitted transfers not yet completed.
func (rs *RelayStage[T]) Pending() int64 {
	return rs.relay.pending.Load()
}

// Relayed returns the number of records fully submitted.
func (rs *RelayStage[T]) Relayed() int64 {
	return rs.metrics.relayedMessages.Load()
}

// Failed returns the number of records whose relay failed.
func (rs *RelayStage[T]) Failed() int64 {
	return rs.metrics.failedMessages.Load()
}

// Delivered returns the number of reassembled records delivered to the output connector.
func (rs *RelayStage[T]) Delivered() int64 {
	return rs.metrics.deliveredMessages.Load()
}
