package ingress

import (
	"context"
	"strconv"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/config"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the Ticker stage configuration.
const (
	DefaultTickerConfigInterval = time.Second
	DefaultTickerConfigTopic    = "ping"
)

// TickerConfig structs contains the configuration for the Ticker stage.
type TickerConfig struct {
	DispatchConfig

	// Interval is the duration between ticks.
	Interval time.Duration

	// Topic is the topic of the heartbeat records.
	// The payload is the tick number.
	Topic string
}

// NewTickerConfig returns the default configuration for the Ticker stage.
func NewTickerConfig() *TickerConfig {
	return &TickerConfig{
		DispatchConfig: newDispatchConfig(),

		Interval: DefaultTickerConfigInterval,
		Topic:    DefaultTickerConfigTopic,
	}
}

// Validate checks the configuration.
func (c *TickerConfig) Validate(ac *config.AnomalyCollector) {
	c.DispatchConfig.Validate(ac)

	config.CheckNotNegative(ac, "Interval", &c.Interval, DefaultTickerConfigInterval)
	config.CheckNotZero(ac, "Interval", &c.Interval, DefaultTickerConfigInterval)
	config.CheckNotEmpty(ac, "Topic", &c.Topic, DefaultTickerConfigTopic)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*tickerSource)(nil)

type tickerSource struct {
	tel *internal.Telemetry

	topic  string
	ticker *time.Ticker
}

func newTickerSource() *tickerSource {
	return &tickerSource{}
}

func (ts *tickerSource) setTelemetry(tel *internal.Telemetry) {
	ts.tel = tel
}

func (ts *tickerSource) init(interval time.Duration, topic string) {
	ts.topic = topic
	ts.ticker = time.NewTicker(interval)
}

func (ts *tickerSource) run(ctx context.Context, d *dispatcher) {
	defer ts.ticker.Stop()

	if err := d.dispatch(ctx, Event{Kind: EventConnected}); err != nil {
		ts.tel.LogError("failed to dispatch event", err)
	}

	defer func() {
		if err := d.dispatch(ctx, Event{Kind: EventDisconnected}); err != nil {
			ts.tel.LogError("failed to dispatch event", err)
		}
	}()

	var payload []byte

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return

		case tickTime := <-ts.ticker.C:
			payload = strconv.AppendInt(payload[:0], int64(tick), 10)

			ev := DataEvent(ts.topic, payload)
			ev.Timestamp = tickTime

			// A dropped heartbeat is already reported by the dispatcher
			_ = d.dispatch(ctx, ev)
		}
	}
}

/////////////
//  STAGE  //
/////////////

// TickerStage is an ingress stage that emits a heartbeat record periodically.
type TickerStage struct {
	*stage[*TickerConfig]

	source *tickerSource
}

// NewTickerStage returns a new Ticker stage.
func NewTickerStage(outConnector SubscriptionConnector, cfg *TickerConfig) *TickerStage {
	source := newTickerSource()

	return &TickerStage{
		stage: newStage("ticker", source, outConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (s *TickerStage) Init(ctx context.Context) error {
	if err := s.stage.Init(ctx); err != nil {
		return err
	}

	s.source.init(s.cfg.Interval, s.cfg.Topic)

	return nil
}
