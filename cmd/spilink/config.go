package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/FerroO2000/spilink/egress"
	"github.com/FerroO2000/spilink/ingress"
	"github.com/FerroO2000/spilink/processor"
	"github.com/FerroO2000/spilink/transport"
	"github.com/goccy/go-yaml"
)

// ErrInvalidConfig is returned when the configuration file cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the configuration file of the relay.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Ingress   IngressConfig   `yaml:"ingress"`
	Filter    FilterConfig    `yaml:"filter"`
	Relay     RelayConfig     `yaml:"relay"`
	Transport TransportConfig `yaml:"transport"`
	Handshake HandshakeConfig `yaml:"handshake"`
	Egress    EgressConfig    `yaml:"egress"`
}

// TelemetryConfig configures the OpenTelemetry exporters.
// An empty endpoint disables the corresponding exporter.
type TelemetryConfig struct {
	ServiceName  string  `yaml:"service_name"`
	Endpoint     string  `yaml:"endpoint"`
	LogsEndpoint string  `yaml:"logs_endpoint"`
	TraceRatio   float64 `yaml:"trace_ratio"`
}

// AddrConfig is an IP address and port pair.
type AddrConfig struct {
	IPAddr string `yaml:"ip_addr"`
	Port   uint16 `yaml:"port"`
}

// IngressConfig selects and configures the subscription source.
type IngressConfig struct {
	Kind           string        `yaml:"kind"`
	QueueDepth     int           `yaml:"queue_depth"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`

	Ticker struct {
		Interval time.Duration `yaml:"interval"`
		Topic    string        `yaml:"topic"`
	} `yaml:"ticker"`

	UDP AddrConfig `yaml:"udp"`
	TCP AddrConfig `yaml:"tcp"`

	Kafka struct {
		Brokers    []string `yaml:"brokers"`
		GroupID    string   `yaml:"group_id"`
		Topics     []string `yaml:"topics"`
		KeyAsTopic bool     `yaml:"key_as_topic"`
	} `yaml:"kafka"`
}

// FilterConfig lists the topic prefixes let through towards the relay.
// It is hot-reloaded.
type FilterConfig struct {
	Prefixes []string `yaml:"prefixes"`
}

// RelayConfig configures the relay stage.
type RelayConfig struct {
	QueueDepth         int           `yaml:"queue_depth"`
	PoolSize           int           `yaml:"pool_size"`
	ChunkLength        int           `yaml:"chunk_length"`
	ReceiveTimeout     time.Duration `yaml:"receive_timeout"`
	IdleReceiveTimeout time.Duration `yaml:"idle_receive_timeout"`
	SubmitTimeout      time.Duration `yaml:"submit_timeout"`
	PollTimeout        time.Duration `yaml:"poll_timeout"`
	DeliverTimeout     time.Duration `yaml:"deliver_timeout"`
	MaxMessageSize     int           `yaml:"max_message_size"`
	CompletedBacklog   int           `yaml:"completed_backlog"`
	SendGreeting       bool          `yaml:"send_greeting"`
	GreetingTopic      string        `yaml:"greeting_topic"`
	GreetingPayload    string        `yaml:"greeting_payload"`
}

// TransportConfig selects the peer of the loopback transport.
type TransportConfig struct {
	Peer  string `yaml:"peer"`
	Depth int    `yaml:"depth"`

	// PeerRecords are the "topic,payload" records sent by a stream peer.
	PeerRecords []string `yaml:"peer_records"`
}

// HandshakeConfig selects the handshake line.
type HandshakeConfig struct {
	Kind      string `yaml:"kind"`
	Path      string `yaml:"path"`
	ActiveLow bool   `yaml:"active_low"`
}

// EgressConfig selects and configures the destination of the reassembled records.
type EgressConfig struct {
	Kind       string `yaml:"kind"`
	QueueDepth int    `yaml:"queue_depth"`

	UDP AddrConfig `yaml:"udp"`

	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// Kinds of the configurable components.
const (
	ingressKindTicker = "ticker"
	ingressKindUDP    = "udp"
	ingressKindTCP    = "tcp"
	ingressKindKafka  = "kafka"

	peerEcho   = "echo"
	peerStream = "stream"

	handshakeNone  = "none"
	handshakeLog   = "log"
	handshakeSysfs = "sysfs"

	egressKindLog   = "log"
	egressKindUDP   = "udp"
	egressKindKafka = "kafka"
	egressKindSink  = "sink"
)

func defaultConfig() *Config {
	cfg := &Config{
		LogLevel: slog.LevelInfo.String(),

		Telemetry: TelemetryConfig{
			ServiceName: "spilink",
			TraceRatio:  0.05,
		},
	}

	tickerCfg := ingress.NewTickerConfig()
	cfg.Ingress.Kind = ingressKindTicker
	cfg.Ingress.QueueDepth = connector.DefaultQueueDepth
	cfg.Ingress.EnqueueTimeout = ingress.DefaultDispatchConfigEnqueueTimeout
	cfg.Ingress.Ticker.Interval = tickerCfg.Interval
	cfg.Ingress.Ticker.Topic = tickerCfg.Topic
	cfg.Ingress.UDP = AddrConfig{IPAddr: ingress.DefaultUDPConfigIPAddr, Port: ingress.DefaultUDPConfigPort}
	cfg.Ingress.TCP = AddrConfig{IPAddr: ingress.DefaultTCPConfigIPAddr, Port: ingress.DefaultTCPConfigPort}
	cfg.Ingress.Kafka.Brokers = ingress.DefaultKafkaConfigBrokers
	cfg.Ingress.Kafka.GroupID = ingress.DefaultKafkaConfigGroupID

	relayCfg := processor.NewRelayConfig()
	cfg.Relay = RelayConfig{
		QueueDepth:         connector.DefaultQueueDepth,
		PoolSize:           relayCfg.PoolSize,
		ChunkLength:        relayCfg.ChunkLength,
		ReceiveTimeout:     relayCfg.ReceiveTimeout,
		IdleReceiveTimeout: relayCfg.IdleReceiveTimeout,
		SubmitTimeout:      relayCfg.SubmitTimeout,
		PollTimeout:        relayCfg.PollTimeout,
		DeliverTimeout:     relayCfg.DeliverTimeout,
		MaxMessageSize:     relayCfg.MaxMessageSize,
		CompletedBacklog:   relayCfg.CompletedBacklog,
		SendGreeting:       relayCfg.SendGreeting,
		GreetingTopic:      relayCfg.GreetingTopic,
		GreetingPayload:    relayCfg.GreetingPayload,
	}

	cfg.Transport = TransportConfig{Peer: peerEcho, Depth: transport.DefaultLoopbackDepth}
	cfg.Handshake = HandshakeConfig{Kind: handshakeNone}

	cfg.Egress.Kind = egressKindLog
	cfg.Egress.QueueDepth = 2 * connector.DefaultQueueDepth
	cfg.Egress.UDP = AddrConfig{IPAddr: egress.DefaultUDPConfigIPAddr, Port: egress.DefaultUDPConfigPort}
	cfg.Egress.Kafka.Brokers = egress.DefaultKafkaConfigBrokers

	return cfg
}

// LoadConfig reads the configuration file.
// The missing fields keep their default value.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if _, err := c.logLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.Ingress.Kind {
	case ingressKindTicker, ingressKindUDP, ingressKindTCP, ingressKindKafka:
	default:
		errs = append(errs, fmt.Errorf("ingress.kind: unknown kind %q", c.Ingress.Kind))
	}

	if c.Ingress.Kind == ingressKindKafka && len(c.Ingress.Kafka.Topics) == 0 {
		errs = append(errs, errors.New("ingress.kafka.topics: at least one topic is required"))
	}

	switch c.Transport.Peer {
	case peerEcho, peerStream:
	default:
		errs = append(errs, fmt.Errorf("transport.peer: unknown peer %q", c.Transport.Peer))
	}

	switch c.Handshake.Kind {
	case handshakeNone, handshakeLog:
	case handshakeSysfs:
		if c.Handshake.Path == "" {
			errs = append(errs, errors.New("handshake.path: required by the sysfs handshake"))
		}
	default:
		errs = append(errs, fmt.Errorf("handshake.kind: unknown kind %q", c.Handshake.Kind))
	}

	switch c.Egress.Kind {
	case egressKindLog, egressKindUDP, egressKindKafka, egressKindSink:
	default:
		errs = append(errs, fmt.Errorf("egress.kind: unknown kind %q", c.Egress.Kind))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

func (c *Config) logLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// restartRequired states whether moving from c to next
// needs the pipeline to be rebuilt. Only the log level
// and the filter prefixes are applied live.
func (c *Config) restartRequired(next *Config) bool {
	current := *c
	current.LogLevel = next.LogLevel
	current.Filter = next.Filter

	return !reflect.DeepEqual(&current, next)
}
