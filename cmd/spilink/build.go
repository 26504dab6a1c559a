package main

import (
	"errors"

	"github.com/FerroO2000/spilink"
	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/egress"
	"github.com/FerroO2000/spilink/ingress"
	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/chunk"
	"github.com/FerroO2000/spilink/internal/message"
	"github.com/FerroO2000/spilink/processor"
	"github.com/FerroO2000/spilink/transport"
)

type (
	subscriptionMsg = message.Message[*ingress.SubscriptionMessage]
	relayMsg        = message.Message[*processor.RelayMessage]
)

// relayPipeline is the pipeline built from the configuration:
// ingress -> filter -> relay -> egress.
type relayPipeline struct {
	*spilink.Pipeline

	filter *processor.TopicFilter

	closers []func() error
}

// close releases the resources not owned by the stages.
func (rp *relayPipeline) close() error {
	var errs []error
	for _, closer := range rp.closers {
		errs = append(errs, closer())
	}
	return errors.Join(errs...)
}

func buildPipeline(cfg *Config) (*relayPipeline, error) {
	rp := &relayPipeline{
		Pipeline: spilink.NewPipeline(),
		filter:   processor.NewTopicFilter(cfg.Filter.Prefixes...),
	}

	ingressToFilter, err := connector.NewQueue[*subscriptionMsg](cfg.Ingress.QueueDepth)
	if err != nil {
		return nil, err
	}
	filterToRelay, err := connector.NewQueue[*subscriptionMsg](cfg.Relay.QueueDepth)
	if err != nil {
		return nil, err
	}
	relayToEgress, err := connector.NewQueue[*relayMsg](cfg.Egress.QueueDepth)
	if err != nil {
		return nil, err
	}

	ingressStage, err := buildIngress(&cfg.Ingress, ingressToFilter)
	if err != nil {
		return nil, err
	}

	filterStage := processor.NewTopicFilterStage[*ingress.SubscriptionMessage](rp.filter, ingressToFilter, filterToRelay, processor.NewFilterConfig())

	tr, err := buildTransport(&cfg.Transport)
	if err != nil {
		return nil, err
	}
	rp.closers = append(rp.closers, func() error { tr.Close(); return nil })

	line, closeLine, err := buildHandshake(&cfg.Handshake)
	if err != nil {
		return nil, errors.Join(err, rp.close())
	}
	if closeLine != nil {
		rp.closers = append(rp.closers, closeLine)
	}

	relayStage := processor.NewRelayStage[*ingress.SubscriptionMessage](filterToRelay, relayToEgress, tr, line, cfg.Relay.stageConfig())

	egressStage, err := buildEgress(&cfg.Egress, relayToEgress)
	if err != nil {
		return nil, errors.Join(err, rp.close())
	}

	rp.AddStage(ingressStage)
	rp.AddStage(filterStage)
	rp.AddStage(relayStage)
	rp.AddStage(egressStage)

	return rp, nil
}

func buildIngress(cfg *IngressConfig, out ingress.SubscriptionConnector) (spilink.Stage, error) {
	dispatch := ingress.DispatchConfig{EnqueueTimeout: cfg.EnqueueTimeout}

	switch cfg.Kind {
	case ingressKindTicker:
		stageCfg := ingress.NewTickerConfig()
		stageCfg.DispatchConfig = dispatch
		stageCfg.Interval = cfg.Ticker.Interval
		stageCfg.Topic = cfg.Ticker.Topic
		return ingress.NewTickerStage(out, stageCfg), nil

	case ingressKindUDP:
		stageCfg := ingress.NewUDPConfig()
		stageCfg.DispatchConfig = dispatch
		stageCfg.IPAddr = cfg.UDP.IPAddr
		stageCfg.Port = cfg.UDP.Port
		return ingress.NewUDPStage(out, stageCfg), nil

	case ingressKindTCP:
		stageCfg := ingress.NewTCPConfig()
		stageCfg.DispatchConfig = dispatch
		stageCfg.IPAddr = cfg.TCP.IPAddr
		stageCfg.Port = cfg.TCP.Port
		return ingress.NewTCPStage(out, stageCfg), nil

	case ingressKindKafka:
		stageCfg := ingress.NewKafkaConfig(cfg.Kafka.Topics...)
		stageCfg.DispatchConfig = dispatch
		stageCfg.Brokers = cfg.Kafka.Brokers
		stageCfg.GroupID = cfg.Kafka.GroupID
		stageCfg.KeyAsTopic = cfg.Kafka.KeyAsTopic
		return ingress.NewKafkaStage(out, stageCfg), nil
	}

	return nil, errors.New("unknown ingress kind " + cfg.Kind)
}

func (c *RelayConfig) stageConfig() *processor.RelayConfig {
	return &processor.RelayConfig{
		PoolSize:           c.PoolSize,
		ChunkLength:        c.ChunkLength,
		ReceiveTimeout:     c.ReceiveTimeout,
		IdleReceiveTimeout: c.IdleReceiveTimeout,
		SubmitTimeout:      c.SubmitTimeout,
		PollTimeout:        c.PollTimeout,
		DeliverTimeout:     c.DeliverTimeout,
		MaxMessageSize:     c.MaxMessageSize,
		CompletedBacklog:   c.CompletedBacklog,
		GreetingTopic:      c.GreetingTopic,
		GreetingPayload:    c.GreetingPayload,
		SendGreeting:       c.SendGreeting,
	}
}

func buildTransport(cfg *TransportConfig) (*transport.Loopback, error) {
	switch cfg.Peer {
	case peerEcho:
		return transport.NewLoopback(transport.EchoPeer{}, cfg.Depth)

	case peerStream:
		peer := transport.NewStreamPeer()
		for _, record := range cfg.PeerRecords {
			topic, payload := chunk.Split([]byte(record))
			peer.Send(chunk.Encode(topic, payload))
		}

		tel := internal.NewTelemetry("transport", "stream_peer")
		peer.OnReceive = func(tx []byte) {
			tel.LogDebug("peer received chunk", "size", len(tx))
		}

		return transport.NewLoopback(peer, cfg.Depth)
	}

	return nil, errors.New("unknown transport peer " + cfg.Peer)
}

// buildHandshake returns a nil line when the handshake is disabled.
func buildHandshake(cfg *HandshakeConfig) (transport.HandshakeLine, func() error, error) {
	switch cfg.Kind {
	case handshakeNone:
		return nil, nil, nil

	case handshakeLog:
		tel := internal.NewTelemetry("transport", "handshake")
		return transport.HandshakeFunc(func(high bool) error {
			tel.LogDebug("handshake line set", "high", high)
			return nil
		}), nil, nil

	case handshakeSysfs:
		return openSysfsLine(cfg)
	}

	return nil, nil, errors.New("unknown handshake kind " + cfg.Kind)
}

func buildEgress(cfg *EgressConfig, in connector.Connector[*relayMsg]) (spilink.Stage, error) {
	switch cfg.Kind {
	case egressKindLog:
		return egress.NewLogStage(in, egress.NewLogConfig()), nil

	case egressKindUDP:
		stageCfg := egress.NewUDPConfig()
		stageCfg.IPAddr = cfg.UDP.IPAddr
		stageCfg.Port = cfg.UDP.Port
		return egress.NewUDPStage(in, stageCfg), nil

	case egressKindKafka:
		stageCfg := egress.NewKafkaConfig()
		stageCfg.Brokers = cfg.Kafka.Brokers
		stageCfg.Topic = cfg.Kafka.Topic
		return egress.NewKafkaStage(in, stageCfg), nil

	case egressKindSink:
		return egress.NewSinkStage(in), nil
	}

	return nil, errors.New("unknown egress kind " + cfg.Kind)
}
