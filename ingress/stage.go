package ingress

import (
	"context"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
)

type stageCfg interface {
	cfg
	getDispatch() *DispatchConfig
}

type source interface {
	setTelemetry(tel *internal.Telemetry)
	run(ctx context.Context, d *dispatcher)
}

type stage[Cfg stageCfg] struct {
	tel *internal.Telemetry

	cfg Cfg

	source     source
	dispatcher *dispatcher

	outputConnector SubscriptionConnector

	open atomic.Bool
}

func newStage[Cfg stageCfg](name string, source source, outConn SubscriptionConnector, cfg Cfg) *stage[Cfg] {
	tel := internal.NewTelemetry("ingress", name)
	source.setTelemetry(tel)

	return &stage[Cfg]{
		tel: tel,

		cfg: cfg,

		source:     source,
		dispatcher: newDispatcher(tel, outConn),

		outputConnector: outConn,
	}
}

func (s *stage[Cfg]) Init(_ context.Context) error {
	s.tel.LogInfo("initializing")

	configValidator := config.NewValidator(s.tel)
	configValidator.Validate(s.cfg)

	s.dispatcher.init(s.cfg.getDispatch().EnqueueTimeout)
	s.open.Store(true)

	return nil
}

func (s *stage[Cfg]) Run(ctx context.Context) {
	s.tel.LogInfo("running")

	s.source.run(ctx, s.dispatcher)
}

func (s *stage[Cfg]) Close() {
	s.tel.LogInfo("closing")

	s.open.Store(false)

	// Close the output connector
	s.outputConnector.Close()
}

// Connected states whether the source of the stage is connected.
func (s *stage[Cfg]) Connected() bool {
	return s.dispatcher.isConnected()
}

// Dropped returns the number of records dropped because
// the output connector was full.
func (s *stage[Cfg]) Dropped() int64 {
	return s.dispatcher.droppedMessages.Load()
}
