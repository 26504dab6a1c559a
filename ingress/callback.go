package ingress

import (
	"context"
	"errors"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
)

// ErrNotRunning is returned when dispatching into a callback stage
// that has not been initialized or has been closed.
var ErrNotRunning = errors.New("ingress: stage is not running")

//////////////
//  CONFIG  //
//////////////

// CallbackConfig structs contains the configuration for the Callback stage.
type CallbackConfig struct {
	DispatchConfig
}

// NewCallbackConfig returns the default configuration for the Callback stage.
func NewCallbackConfig() *CallbackConfig {
	return &CallbackConfig{
		DispatchConfig: newDispatchConfig(),
	}
}

// Validate checks the configuration.
func (c *CallbackConfig) Validate(ac *config.AnomalyCollector) {
	c.DispatchConfig.Validate(ac)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*callbackSource)(nil)

type callbackSource struct {
	tel *internal.Telemetry
}

func (cs *callbackSource) setTelemetry(tel *internal.Telemetry) {
	cs.tel = tel
}

func (cs *callbackSource) run(ctx context.Context, _ *dispatcher) {
	<-ctx.Done()
}

/////////////
//  STAGE  //
/////////////

// CallbackStage is an ingress stage fed by an external subscription client
// through [CallbackStage.Dispatch], typically from the client's event callback.
type CallbackStage struct {
	*stage[*CallbackConfig]
}

// NewCallbackStage returns a new Callback stage.
func NewCallbackStage(outConnector SubscriptionConnector, cfg *CallbackConfig) *CallbackStage {
	return &CallbackStage{
		stage: newStage("callback", &callbackSource{}, outConnector, cfg),
	}
}

// Dispatch handles a subscription event.
// A data event is enqueued waiting at most the configured timeout:
// if the connector stays full the record is dropped and [ErrDropped] is returned.
func (cs *CallbackStage) Dispatch(ctx context.Context, ev Event) error {
	if !cs.open.Load() {
		return ErrNotRunning
	}

	return cs.dispatcher.dispatch(ctx, ev)
}
