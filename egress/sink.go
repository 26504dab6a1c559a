package egress

import (
	"context"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal/config"
)

/////////////
//  STAGE  //
/////////////

// SinkStage is an egress stage that simply destroys all incoming messages.
// It is intended for testing purposes.
type SinkStage[T msgEnv] struct {
	*stageBase[T, *config.Empty]

	consumed atomic.Int64
}

// NewSinkStage returns a new sink egress stage.
func NewSinkStage[T msgEnv](inputConnector msgConn[T]) *SinkStage[T] {
	return &SinkStage[T]{
		stageBase: newStageBase("sink", inputConnector, &config.Empty{}),
	}
}

// Init initializes the sink stage.
func (ss *SinkStage[T]) Init(_ context.Context) error {
	ss.stageBase.init()
	return nil
}

// Run runs the sink stage.
func (ss *SinkStage[T]) Run(ctx context.Context) {
	ss.stageBase.run()

	ss.consume(ctx, func(msgIn *msg[T]) {
		ss.consumed.Add(1)
		msgIn.Destroy()
	})
}

// Close closes the sink stage.
func (ss *SinkStage[T]) Close() {
	ss.stageBase.close()
}

// Consumed returns the number of destroyed messages.
func (ss *SinkStage[T]) Consumed() int64 {
	return ss.consumed.Load()
}
