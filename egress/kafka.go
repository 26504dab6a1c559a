package egress

import (
	"context"
	"time"

	"github.com/FerroO2000/spilink/internal/config"
	"github.com/FerroO2000/spilink/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigBrokers = []string{"localhost:9092"}

// Default values for the Kafka egress stage configuration.
const (
	DefaultKafkaConfigMaxAttempts     = 10
	DefaultKafkaConfigWriteBackoffMin = 100 * time.Millisecond
	DefaultKafkaConfigWriteBackoffMax = time.Second
	DefaultKafkaConfigBatchSize       = 100
	DefaultKafkaConfigBatchTimeout    = time.Second
	DefaultKafkaConfigWriteTimeout    = 10 * time.Second
)

// KafkaConfig structs contains the configuration for the Kafka egress stage.
type KafkaConfig struct {
	// A list of Kafka brokers to connect to.
	Brokers []string

	// Topic is the Kafka topic the records are written to,
	// keyed by their own topic.
	// If empty, every record is written to the Kafka topic
	// named after its own topic, without a key.
	Topic string

	// The balancer used to distribute messages across partitions.
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	MaxAttempts int

	// WriteBackoffMin optionally sets the smallest amount of time the writer waits before
	// it attempts to write a batch of messages
	WriteBackoffMin time.Duration

	// WriteBackoffMax optionally sets the maximum amount of time the writer waits before
	// it attempts to write a batch of messages
	WriteBackoffMax time.Duration

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	BatchSize int

	// Time limit on how often incomplete message batches will be flushed to
	// kafka.
	BatchTimeout time.Duration

	// Timeout for write operation performed by the Writer.
	WriteTimeout time.Duration

	// Number of acknowledges from partition replicas required before receiving
	// a response to a produce request.
	RequiredAcks kafka.RequiredAcks

	// Setting this flag to true causes the WriteMessages method to never block.
	// It also means that errors are ignored since the caller will not receive
	// the returned value.
	Async bool

	// Compression set the compression codec to be used to compress messages.
	Compression kafka.Compression

	// A transport used to send messages to kafka clusters.
	// If nil, DefaultTransport is used.
	Transport kafka.RoundTripper

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	AllowAutoTopicCreation bool
}

// NewKafkaConfig returns the default configuration for the Kafka egress stage.
func NewKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:                DefaultKafkaConfigBrokers,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            DefaultKafkaConfigMaxAttempts,
		WriteBackoffMin:        DefaultKafkaConfigWriteBackoffMin,
		WriteBackoffMax:        DefaultKafkaConfigWriteBackoffMax,
		BatchSize:              DefaultKafkaConfigBatchSize,
		BatchTimeout:           DefaultKafkaConfigBatchTimeout,
		WriteTimeout:           DefaultKafkaConfigWriteTimeout,
		RequiredAcks:           kafka.RequireNone,
		Async:                  true,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)

	config.CheckNotZero(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigMaxAttempts)
	config.CheckNotNegative(ac, "WriteBackoffMin", &c.WriteBackoffMin, DefaultKafkaConfigWriteBackoffMin)
	config.CheckNotLowerThan(ac, "WriteBackoffMax", "WriteBackoffMin", &c.WriteBackoffMax, c.WriteBackoffMin)
	config.CheckNotZero(ac, "BatchSize", &c.BatchSize, DefaultKafkaConfigBatchSize)
	config.CheckNotNegative(ac, "BatchTimeout", &c.BatchTimeout, DefaultKafkaConfigBatchTimeout)
	config.CheckNotNegative(ac, "WriteTimeout", &c.WriteTimeout, DefaultKafkaConfigWriteTimeout)
}

func (c *KafkaConfig) newWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Balancer:               c.Balancer,
		MaxAttempts:            c.MaxAttempts,
		WriteBackoffMin:        c.WriteBackoffMin,
		WriteBackoffMax:        c.WriteBackoffMax,
		BatchSize:              c.BatchSize,
		BatchTimeout:           c.BatchTimeout,
		WriteTimeout:           c.WriteTimeout,
		RequiredAcks:           c.RequiredAcks,
		Async:                  c.Async,
		Compression:            c.Compression,
		Transport:              c.Transport,
		AllowAutoTopicCreation: c.AllowAutoTopicCreation,
	}
}

//////////////
//  WORKER  //
//////////////

// messageWriter is implemented by [kafka.Writer].
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaWorkerArgs struct {
	writer messageWriter
	topic  string
}

func newKafkaWorkerInstMaker[T msgTop]() workerInstanceMaker[*kafkaWorkerArgs, T] {
	return func() workerInstance[*kafkaWorkerArgs, T] {
		return &kafkaWorker[T]{}
	}
}

type kafkaWorker[T msgTop] struct {
	baseWorker

	writer messageWriter
	topic  string
}

func (kw *kafkaWorker[T]) Init(_ context.Context, args *kafkaWorkerArgs) error {
	kw.writer = args.writer
	kw.topic = args.topic

	return nil
}

func (kw *kafkaWorker[T]) Deliver(ctx context.Context, msgIn *msg[T]) error {
	ctx, span := kw.tel.NewTrace(ctx, "deliver kafka message")
	defer span.End()

	record := msgIn.GetEnvelope()

	// Create the header that carries the trace
	headerCarrier := telemetry.NewKafkaHeaderCarrier(nil)
	kw.tel.InjectTrace(ctx, headerCarrier)

	kafkaMsg := kafka.Message{
		Value:   record.GetPayload(),
		Time:    msgIn.GetTimestamp(),
		Headers: headerCarrier.Headers(),
	}

	if kw.topic == "" {
		kafkaMsg.Topic = record.GetTopic()
	} else {
		kafkaMsg.Topic = kw.topic
		kafkaMsg.Key = []byte(record.GetTopic())
	}

	span.SetAttributes(
		attribute.String("topic", record.GetTopic()),
		attribute.Int("payload_size", len(kafkaMsg.Value)),
	)

	return kw.writer.WriteMessages(ctx, kafkaMsg)
}

func (kw *kafkaWorker[T]) Close(_ context.Context) error { return nil }

/////////////
//  STAGE  //
/////////////

// KafkaStage is an egress stage that writes the records to Kafka.
type KafkaStage[T msgTop] struct {
	*stage[*kafkaWorkerArgs, T, *KafkaConfig]

	writer messageWriter
}

// NewKafkaStage returns a new Kafka egress stage.
func NewKafkaStage[T msgTop](inputConnector msgConn[T], cfg *KafkaConfig) *KafkaStage[T] {
	return &KafkaStage[T]{
		stage: newStage("kafka", inputConnector, newKafkaWorkerInstMaker[T](), cfg),
	}
}

// Init initializes the stage.
func (ks *KafkaStage[T]) Init(ctx context.Context) error {
	ks.stageBase.init()

	if ks.writer == nil {
		ks.writer = ks.config.newWriter()
	}

	ks.worker.metrics.init()

	return ks.worker.init(ctx, &kafkaWorkerArgs{
		writer: ks.writer,
		topic:  ks.config.Topic,
	})
}

// Close closes the stage.
func (ks *KafkaStage[T]) Close() {
	ks.stage.Close()

	if ks.writer == nil {
		return
	}

	if err := ks.writer.Close(); err != nil {
		ks.tel.LogError("failed to close writer", err)
	}
}
