package egress

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

type stageBase[In msgEnv, Cfg cfg] struct {
	tel *internal.Telemetry

	config Cfg

	inputConnector msgConn[In]
}

func newStageBase[In msgEnv, Cfg cfg](name string, inConn msgConn[In], cfg Cfg) *stageBase[In, Cfg] {
	return &stageBase[In, Cfg]{
		tel: internal.NewTelemetry("egress", name),

		config: cfg,

		inputConnector: inConn,
	}
}

func (s *stageBase[In, Cfg]) init() {
	s.tel.LogInfo("initializing")

	configValidator := config.NewValidator(s.tel)
	configValidator.Validate(s.config)
}

func (s *stageBase[In, Cfg]) run() {
	s.tel.LogInfo("running")
}

func (s *stageBase[In, Cfg]) close() {
	s.tel.LogInfo("closing")
}

// consume reads the input connector until it is closed
// or the context is done, handing every message to fn.
func (s *stageBase[In, Cfg]) consume(ctx context.Context, fn func(*msg[In])) {
	for {
		msgIn, err := s.inputConnector.Read(ctx)
		if err != nil {
			// Check if the input connector is closed, if so stop
			if errors.Is(err, connector.ErrClosed) {
				s.tel.LogInfo("input connector is closed, stopping")
			}

			return
		}

		fn(msgIn)
	}
}

/////////////
//  STAGE  //
/////////////

// stage delivers the input messages through a single worker instance, in order.
type stage[WArgs any, In msgEnv, Cfg cfg] struct {
	*stageBase[In, Cfg]

	worker *worker[WArgs, In]
}

func newStage[WArgs any, In msgEnv, Cfg cfg](
	name string, inConn msgConn[In], workerInstMaker workerInstanceMaker[WArgs, In], cfg Cfg,
) *stage[WArgs, In, Cfg] {

	stageBase := newStageBase(name, inConn, cfg)

	return &stage[WArgs, In, Cfg]{
		stageBase: stageBase,

		worker: newWorker(stageBase.tel, workerInstMaker(), newWorkerMetrics(stageBase.tel)),
	}
}

func (s *stage[WArgs, In, Cfg]) Init(ctx context.Context, workerArgs WArgs) error {
	s.stageBase.init()

	// Initialize the worker metrics
	s.worker.metrics.init()

	return s.worker.init(ctx, workerArgs)
}

func (s *stage[WArgs, In, Cfg]) Run(ctx context.Context) {
	s.stageBase.run()

	s.consume(ctx, func(msgIn *msg[In]) {
		s.worker.deliver(ctx, msgIn)
	})
}

func (s *stage[WArgs, In, Cfg]) Close() {
	s.stageBase.close()

	s.worker.close(context.Background())
}
