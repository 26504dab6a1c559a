package processor

import (
	"context"
	"errors"

	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
)

////////////
//  BASE  //
////////////

type stageBase[In, Out msgEnv] struct {
	tel *internal.Telemetry

	inputConnector  msgConn[In]
	outputConnector msgConn[Out]
}

func newStageBase[In, Out msgEnv](name string, inConn msgConn[In], outConn msgConn[Out]) *stageBase[In, Out] {
	return &stageBase[In, Out]{
		tel: internal.NewTelemetry("processor", name),

		inputConnector:  inConn,
		outputConnector: outConn,
	}
}

func (s *stageBase[In, Out]) init(c cfg) {
	s.tel.LogInfo("initializing")

	config.NewValidator(s.tel).Validate(c)
}

func (s *stageBase[In, Out]) run() {
	s.tel.LogInfo("running")
}

func (s *stageBase[In, Out]) close() {
	s.tel.LogInfo("closing")

	// Close the output connector
	s.outputConnector.Close()
}

// readInput reads the next message from the input connector.
// The boolean is false when the stage has to stop.
func (s *stageBase[In, Out]) readInput(ctx context.Context) (*msg[In], bool) {
	msgIn, err := s.inputConnector.Read(ctx)
	if err == nil {
		return msgIn, true
	}

	// Check if the input connector is closed, if so stop
	if errors.Is(err, connector.ErrClosed) {
		s.tel.LogInfo("input connector is closed, stopping")
		return nil, false
	}

	if ctx.Err() == nil {
		s.tel.LogError("failed to read from input connector", err)
	}

	return nil, false
}

/////////////
//  STAGE  //
/////////////

// stage runs a single worker instance over the input messages, preserving their order.
type stage[WArgs any, In, Out msgEnv] struct {
	*stageBase[In, Out]

	worker *worker[WArgs, In, Out]
}

func newStage[WArgs any, In, Out msgEnv](
	name string, inConn msgConn[In], outConn msgConn[Out], workerInstMaker workerInstanceMaker[WArgs, In, Out],
) *stage[WArgs, In, Out] {

	stageBase := newStageBase(name, inConn, outConn)

	return &stage[WArgs, In, Out]{
		stageBase: stageBase,

		worker: newWorker(stageBase.tel, workerInstMaker(), newWorkerMetrics(stageBase.tel)),
	}
}

func (s *stage[WArgs, In, Out]) Init(ctx context.Context, c cfg, workerArgs WArgs) error {
	s.stageBase.init(c)

	// Initialize the worker metrics
	s.worker.metrics.init()

	return s.worker.init(ctx, workerArgs)
}

func (s *stage[WArgs, In, Out]) Run(ctx context.Context) {
	s.stageBase.run()

	for {
		msgIn, ok := s.readInput(ctx)
		if !ok {
			return
		}

		msgOut, valid := s.worker.process(ctx, msgIn)
		if !valid {
			continue
		}

		// Write the message to the output connector
		if err := s.outputConnector.Write(msgOut); err != nil {
			msgOut.Destroy()
			s.tel.LogError("failed to write into output connector", err)
		}
	}
}

func (s *stage[WArgs, In, Out]) Close() {
	s.stageBase.close()

	s.worker.close(context.Background())
}
