package processor

import (
	"context"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// FilterConfig structs contains the configuration for the [FilterStage].
type FilterConfig struct {
	config.Empty
}

// NewFilterConfig returns the default configuration for the [FilterStage].
func NewFilterConfig() *FilterConfig {
	return &FilterConfig{}
}

////////////////////
//  TOPIC FILTER  //
////////////////////

// TopicFilter matches topics against a set of prefixes.
// The prefixes can be replaced while the filter is in use.
type TopicFilter struct {
	prefixes atomic.Pointer[[]string]
}

// NewTopicFilter returns a filter matching the given prefixes.
// A filter without prefixes matches every topic.
func NewTopicFilter(prefixes ...string) *TopicFilter {
	tf := &TopicFilter{}
	tf.SetPrefixes(prefixes)
	return tf
}

// SetPrefixes replaces the prefixes of the filter.
func (tf *TopicFilter) SetPrefixes(prefixes []string) {
	cloned := slices.Clone(prefixes)
	tf.prefixes.Store(&cloned)
}

// Prefixes returns the current prefixes.
func (tf *TopicFilter) Prefixes() []string {
	return slices.Clone(*tf.prefixes.Load())
}

// Match states whether the topic has to pass the filter.
func (tf *TopicFilter) Match(topic string) bool {
	prefixes := *tf.prefixes.Load()
	if len(prefixes) == 0 {
		return true
	}

	for _, prefix := range prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}

	return false
}

////////////////////////
//  WORKER ARGUMENTS  //
////////////////////////

type filterWorkerArgs[T msgEnv] struct {
	filterFn func(T) bool
}

/////////////////////////////
//  WORKER IMPLEMENTATION  //
/////////////////////////////

type filterWorker[T msgEnv] struct {
	baseWorker

	filterFn func(T) bool

	filteredMessages *atomic.Int64
}

func newFilterWorkerInstMaker[T msgEnv](filteredMessages *atomic.Int64) workerInstanceMaker[*filterWorkerArgs[T], T, T] {
	return func() workerInstance[*filterWorkerArgs[T], T, T] {
		return &filterWorker[T]{
			filteredMessages: filteredMessages,
		}
	}
}

func (fw *filterWorker[T]) Init(_ context.Context, args *filterWorkerArgs[T]) error {
	fw.filterFn = args.filterFn

	fw.tel.NewCounter("filtered_messages", func() int64 { return fw.filteredMessages.Load() })

	return nil
}

func (fw *filterWorker[T]) Handle(ctx context.Context, msgIn *msg[T]) (*msg[T], error) {
	_, span := fw.tel.NewTrace(ctx, "filter message")
	defer span.End()

	if !fw.filterFn(msgIn.GetEnvelope()) {
		msgIn.Drop()
		fw.filteredMessages.Add(1)

		span.SetAttributes(attribute.Bool("filtered", true))
	}

	return msgIn, nil
}

func (fw *filterWorker[T]) Close(_ context.Context) error {
	return nil
}

/////////////
//  STAGE  //
/////////////

// FilterStage is a processor stage that drops the messages
// rejected by a user-defined function.
type FilterStage[T msgEnv] struct {
	*stage[*filterWorkerArgs[T], T, T]

	cfg *FilterConfig

	filterFn func(T) bool

	filteredMessages atomic.Int64
}

// NewFilterStage returns a new filter processor stage.
func NewFilterStage[T msgEnv](filterFn func(T) bool, inputConnector, outputConnector msgConn[T], cfg *FilterConfig) *FilterStage[T] {
	fs := &FilterStage[T]{
		cfg: cfg,

		filterFn: filterFn,
	}

	fs.stage = newStage("filter", inputConnector, outputConnector, newFilterWorkerInstMaker[T](&fs.filteredMessages))

	return fs
}

// NewTopicFilterStage returns a filter processor stage
// that lets through the records matched by the topic filter.
func NewTopicFilterStage[T msgTop](filter *TopicFilter, inputConnector, outputConnector msgConn[T], cfg *FilterConfig) *FilterStage[T] {
	return NewFilterStage(func(record T) bool {
		return filter.Match(record.GetTopic())
	}, inputConnector, outputConnector, cfg)
}

// Init initializes the stage.
func (fs *FilterStage[T]) Init(ctx context.Context) error {
	return fs.stage.Init(ctx, fs.cfg, &filterWorkerArgs[T]{filterFn: fs.filterFn})
}

// Filtered returns the number of messages dropped by the filter.
func (fs *FilterStage[T]) Filtered() int64 {
	return fs.filteredMessages.Load()
}
