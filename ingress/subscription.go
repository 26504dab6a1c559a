package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/message"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var (
	// ErrDropped is returned when a record is dropped because
	// the output connector stayed full.
	ErrDropped = errors.New("ingress: record dropped")
	// ErrUnknownEvent is returned when dispatching an event of unknown kind.
	ErrUnknownEvent = errors.New("ingress: unknown event kind")
)

/////////////
//  EVENT  //
/////////////

// EventKind is the kind of a subscription event.
type EventKind uint8

const (
	// EventConnected is emitted when the source connects.
	EventConnected EventKind = iota
	// EventDisconnected is emitted when the source disconnects.
	EventDisconnected
	// EventSubscribed is emitted when a topic subscription is acknowledged.
	EventSubscribed
	// EventUnsubscribed is emitted when a topic subscription is removed.
	EventUnsubscribed
	// EventPublished is emitted when a publication is acknowledged.
	EventPublished
	// EventData is emitted when a record is received.
	EventData
	// EventError is emitted when the source reports an error.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSubscribed:
		return "subscribed"
	case EventUnsubscribed:
		return "unsubscribed"
	case EventPublished:
		return "published"
	case EventData:
		return "data"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is a subscription event.
type Event struct {
	Kind EventKind

	// Topic is set by data and (un)subscription events.
	Topic string
	// Payload is set by data events.
	Payload []byte
	// Err is set by error events.
	Err error

	// Timestamp is the time of the event.
	// If zero, the dispatch time is used.
	Timestamp time.Time
}

// DataEvent returns a data event.
func DataEvent(topic string, payload []byte) Event {
	return Event{
		Kind:    EventData,
		Topic:   topic,
		Payload: payload,
	}
}

///////////////
//  MESSAGE  //
///////////////

var _ message.Topical = (*SubscriptionMessage)(nil)

var subscriptionMessagePool = sync.Pool{
	New: func() any {
		return &SubscriptionMessage{}
	},
}

// SubscriptionMessage is the record produced by the ingress stages.
type SubscriptionMessage struct {
	Topic   string
	Payload []byte
}

func newSubscriptionMessage(topic string, payload []byte) *SubscriptionMessage {
	sm := subscriptionMessagePool.Get().(*SubscriptionMessage)
	sm.Topic = topic
	sm.Payload = append(sm.Payload[:0], payload...)
	return sm
}

// Destroy gives the message back to its pool.
func (sm *SubscriptionMessage) Destroy() {
	sm.Topic = ""
	sm.Payload = sm.Payload[:0]
	subscriptionMessagePool.Put(sm)
}

// GetTopic returns the topic of the record.
func (sm *SubscriptionMessage) GetTopic() string {
	return sm.Topic
}

// GetPayload returns the payload of the record.
func (sm *SubscriptionMessage) GetPayload() []byte {
	return sm.Payload
}

// GetBytes returns the payload of the record.
func (sm *SubscriptionMessage) GetBytes() []byte {
	return sm.Payload
}

//////////////
//  CONFIG  //
//////////////

// Default values for the dispatch configuration.
const (
	DefaultDispatchConfigEnqueueTimeout = 10 * time.Millisecond
)

// DispatchConfig contains the configuration shared by the ingress stages.
type DispatchConfig struct {
	// EnqueueTimeout is how long a record waits for space
	// in the output connector before being dropped.
	EnqueueTimeout time.Duration
}

func newDispatchConfig() DispatchConfig {
	return DispatchConfig{
		EnqueueTimeout: DefaultDispatchConfigEnqueueTimeout,
	}
}

// Validate checks the configuration.
func (c *DispatchConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotNegative(ac, "EnqueueTimeout", &c.EnqueueTimeout, DefaultDispatchConfigEnqueueTimeout)
}

func (c *DispatchConfig) getDispatch() *DispatchConfig {
	return c
}

//////////////////
//  DISPATCHER  //
//////////////////

type dispatcher struct {
	tel *internal.Telemetry

	outputConnector SubscriptionConnector
	enqueueTimeout  time.Duration

	connected atomic.Bool

	// Throttles the drop warnings
	dropLog rate.Sometimes

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
	droppedMessages  atomic.Int64
	subscriptions    atomic.Int64
	published        atomic.Int64
	sourceErrors     atomic.Int64
}

func newDispatcher(tel *internal.Telemetry, outConn SubscriptionConnector) *dispatcher {
	return &dispatcher{
		tel: tel,

		outputConnector: outConn,
		enqueueTimeout:  DefaultDispatchConfigEnqueueTimeout,

		dropLog: rate.Sometimes{First: 1, Interval: time.Second},
	}
}

func (d *dispatcher) init(enqueueTimeout time.Duration) {
	d.enqueueTimeout = enqueueTimeout

	d.tel.NewCounter("received_messages", func() int64 { return d.receivedMessages.Load() })
	d.tel.NewCounter("received_bytes", func() int64 { return d.receivedBytes.Load() })
	d.tel.NewCounter("dropped_messages", func() int64 { return d.droppedMessages.Load() })
	d.tel.NewCounter("published_messages", func() int64 { return d.published.Load() })
	d.tel.NewCounter("source_errors", func() int64 { return d.sourceErrors.Load() })
	d.tel.NewUpDownCounter("subscriptions", func() int64 { return d.subscriptions.Load() })
}

// dispatch handles every kind of event.
// Only data events reach the output connector.
func (d *dispatcher) dispatch(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventConnected:
		d.connected.Store(true)
		d.tel.LogInfo("source connected")

	case EventDisconnected:
		d.connected.Store(false)
		d.tel.LogInfo("source disconnected")

	case EventSubscribed:
		d.subscriptions.Add(1)
		d.tel.LogInfo("subscribed", "topic", ev.Topic)

	case EventUnsubscribed:
		d.subscriptions.Add(-1)
		d.tel.LogInfo("unsubscribed", "topic", ev.Topic)

	case EventPublished:
		d.published.Add(1)
		d.tel.LogDebug("published", "topic", ev.Topic)

	case EventData:
		return d.enqueue(ctx, ev)

	case EventError:
		d.sourceErrors.Add(1)
		d.tel.LogError("source error", ev.Err)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownEvent, ev.Kind)
	}

	return nil
}

func (d *dispatcher) enqueue(ctx context.Context, ev Event) error {
	_, span := d.tel.NewTrace(ctx, "receive subscription record")
	defer span.End()

	payloadSize := len(ev.Payload)

	d.receivedMessages.Add(1)
	d.receivedBytes.Add(int64(payloadSize))

	msgOut := message.NewMessage(newSubscriptionMessage(ev.Topic, ev.Payload))

	recvTime := time.Now()
	msgOut.SetReceiveTime(recvTime)
	if ev.Timestamp.IsZero() {
		msgOut.SetTimestamp(recvTime)
	} else {
		msgOut.SetTimestamp(ev.Timestamp)
	}

	span.SetAttributes(
		attribute.String("topic", ev.Topic),
		attribute.Int("payload_size", payloadSize),
	)
	msgOut.SaveSpan(span)

	err := d.outputConnector.TrySend(msgOut, d.enqueueTimeout)
	if err == nil {
		return nil
	}

	msgOut.Destroy()

	if errors.Is(err, connector.ErrFull) {
		dropped := d.droppedMessages.Add(1)
		d.dropLog.Do(func() {
			d.tel.LogWarn("output connector is full, dropping records", "topic", ev.Topic, "dropped_total", dropped)
		})

		return fmt.Errorf("%w: topic %q: %w", ErrDropped, ev.Topic, err)
	}

	d.tel.LogError("failed to write record into output connector", err, "topic", ev.Topic)

	return err
}

func (d *dispatcher) isConnected() bool {
	return d.connected.Load()
}
