package ingress

import (
	"context"
	"errors"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/telemetry"
	"github.com/segmentio/kafka-go"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigBrokers = []string{"localhost:9092"}

// Default values for the Kafka ingress stage configuration.
const (
	DefaultKafkaConfigGroupID        = "spilink"
	DefaultKafkaConfigMinBytes       = 1
	DefaultKafkaConfigMaxBytes       = 1 << 20
	DefaultKafkaConfigMaxWait        = 500 * time.Millisecond
	DefaultKafkaConfigCommitInterval = time.Second
	DefaultKafkaConfigStartOffset    = kafka.LastOffset
	DefaultKafkaConfigReadMinBackoff = 100 * time.Millisecond
	DefaultKafkaConfigReadMaxBackoff = 1 * time.Second
	DefaultKafkaConfigMaxAttempts    = 3
)

// KafkaConfig structs contains the configuration for the Kafka ingress stage.
type KafkaConfig struct {
	DispatchConfig

	// The list of broker addresses used to connect to the kafka cluster.
	Brokers []string

	// GroupID holds the consumer group id.
	GroupID string

	// Topics are the subscribed topics.
	Topics []string

	// KeyAsTopic uses the key of a Kafka message, when not empty,
	// as the topic of the record instead of the Kafka topic.
	KeyAsTopic bool

	// MinBytes indicates to the broker the minimum batch size that the consumer
	// will accept.
	MinBytes int

	// MaxBytes indicates to the broker the maximum batch size that the consumer
	// will accept.
	MaxBytes int

	// Maximum amount of time to wait for new data to come when fetching batches
	// of messages from kafka.
	MaxWait time.Duration

	// CommitInterval indicates the interval at which offsets are committed to
	// the broker. If 0, commits will be handled synchronously.
	CommitInterval time.Duration

	// StartOffset determines from whence the consumer group should begin
	// consuming when it finds a partition without a committed offset.
	StartOffset int64

	// ReadBackoffMin is the smallest amount of time the reader will wait before
	// polling for new messages.
	ReadBackoffMin time.Duration

	// ReadBackoffMax is the maximum amount of time the reader will wait before
	// polling for new messages.
	ReadBackoffMax time.Duration

	// Limit of how many attempts to connect will be made before returning the error.
	MaxAttempts int
}

// NewKafkaConfig returns the default configuration for the Kafka ingress stage.
// There are NO default topics set.
func NewKafkaConfig(topics ...string) *KafkaConfig {
	return &KafkaConfig{
		DispatchConfig: newDispatchConfig(),

		Brokers:        DefaultKafkaConfigBrokers,
		GroupID:        DefaultKafkaConfigGroupID,
		Topics:         topics,
		MinBytes:       DefaultKafkaConfigMinBytes,
		MaxBytes:       DefaultKafkaConfigMaxBytes,
		MaxWait:        DefaultKafkaConfigMaxWait,
		CommitInterval: DefaultKafkaConfigCommitInterval,
		StartOffset:    DefaultKafkaConfigStartOffset,
		ReadBackoffMin: DefaultKafkaConfigReadMinBackoff,
		ReadBackoffMax: DefaultKafkaConfigReadMaxBackoff,
		MaxAttempts:    DefaultKafkaConfigMaxAttempts,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	c.DispatchConfig.Validate(ac)

	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)
	config.CheckNotEmpty(ac, "GroupID", &c.GroupID, DefaultKafkaConfigGroupID)

	config.CheckNotZero(ac, "MinBytes", &c.MinBytes, DefaultKafkaConfigMinBytes)
	config.CheckNotLowerThan(ac, "MaxBytes", "MinBytes", &c.MaxBytes, c.MinBytes)
	config.CheckNotNegative(ac, "MaxWait", &c.MaxWait, DefaultKafkaConfigMaxWait)
	config.CheckNotNegative(ac, "CommitInterval", &c.CommitInterval, DefaultKafkaConfigCommitInterval)
	config.CheckNotNegative(ac, "ReadBackoffMin", &c.ReadBackoffMin, DefaultKafkaConfigReadMinBackoff)
	config.CheckNotLowerThan(ac, "ReadBackoffMax", "ReadBackoffMin", &c.ReadBackoffMax, c.ReadBackoffMin)
	config.CheckNotZero(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigMaxAttempts)
}

func (c *KafkaConfig) readerConfig() kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		GroupTopics:    c.Topics,
		MinBytes:       c.MinBytes,
		MaxBytes:       c.MaxBytes,
		MaxWait:        c.MaxWait,
		CommitInterval: c.CommitInterval,
		StartOffset:    c.StartOffset,
		ReadBackoffMin: c.ReadBackoffMin,
		ReadBackoffMax: c.ReadBackoffMax,
		MaxAttempts:    c.MaxAttempts,
	}
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*kafkaSource)(nil)

type kafkaSource struct {
	tel *internal.Telemetry

	reader *kafka.Reader

	topics     []string
	keyAsTopic bool
}

func newKafkaSource() *kafkaSource {
	return &kafkaSource{}
}

func (ks *kafkaSource) setTelemetry(tel *internal.Telemetry) {
	ks.tel = tel
}

func (ks *kafkaSource) init(cfg *KafkaConfig) {
	ks.reader = kafka.NewReader(cfg.readerConfig())

	ks.topics = cfg.Topics
	ks.keyAsTopic = cfg.KeyAsTopic
}

func (ks *kafkaSource) run(ctx context.Context, d *dispatcher) {
	ks.dispatchStatus(ctx, d, Event{Kind: EventConnected})

	for _, topic := range ks.topics {
		ks.dispatchStatus(ctx, d, Event{Kind: EventSubscribed, Topic: topic})
	}

	defer func() {
		for _, topic := range ks.topics {
			ks.dispatchStatus(ctx, d, Event{Kind: EventUnsubscribed, Topic: topic})
		}

		ks.dispatchStatus(ctx, d, Event{Kind: EventDisconnected})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := ks.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			ks.dispatchStatus(ctx, d, Event{Kind: EventError, Err: err})
			continue
		}

		ks.handleMessage(ctx, d, &msg)
	}
}

func (ks *kafkaSource) dispatchStatus(ctx context.Context, d *dispatcher, ev Event) {
	if err := d.dispatch(ctx, ev); err != nil {
		ks.tel.LogError("failed to dispatch event", err, "event", ev.Kind)
	}
}

func (ks *kafkaSource) handleMessage(ctx context.Context, d *dispatcher, msg *kafka.Message) {
	if len(msg.Headers) > 0 {
		headerCarrier := telemetry.NewKafkaHeaderCarrier(msg.Headers)
		ctx = ks.tel.ExtractTraceContext(ctx, headerCarrier)
	}

	ev := DataEvent(recordTopic(msg, ks.keyAsTopic), msg.Value)
	ev.Timestamp = msg.Time

	// A dropped record is already reported by the dispatcher
	_ = d.dispatch(ctx, ev)
}

func recordTopic(msg *kafka.Message, keyAsTopic bool) string {
	if keyAsTopic && len(msg.Key) > 0 {
		return string(msg.Key)
	}
	return msg.Topic
}

func (ks *kafkaSource) close() {
	if ks.reader == nil {
		return
	}

	if err := ks.reader.Close(); err != nil {
		ks.tel.LogError("failed to close reader", err)
	}
}

/////////////
//  STAGE  //
/////////////

// KafkaStage is an ingress stage that subscribes to Kafka topics.
type KafkaStage struct {
	*stage[*KafkaConfig]

	source *kafkaSource
}

// NewKafkaStage returns a new Kafka ingress stage.
func NewKafkaStage(outConnector SubscriptionConnector, cfg *KafkaConfig) *KafkaStage {
	source := newKafkaSource()

	return &KafkaStage{
		stage: newStage("kafka", source, outConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (ks *KafkaStage) Init(ctx context.Context) error {
	if err := ks.stage.Init(ctx); err != nil {
		return err
	}

	ks.source.init(ks.cfg)

	return nil
}

// Close closes the stage.
func (ks *KafkaStage) Close() {
	ks.stage.Close()
	ks.source.close()
}
