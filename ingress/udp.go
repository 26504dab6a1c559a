package ingress

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/chunk"
	"github.com/FerroO2000/spilink/internal/config"
)

const (
	udpPayloadSize = 1474
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP stage configuration.
const (
	DefaultUDPConfigIPAddr = "0.0.0.0"
	DefaultUDPConfigPort   = 20_000
)

// UDPConfig structs contains the configuration for the UDP stage.
type UDPConfig struct {
	DispatchConfig

	// IPAddr is the IP address to listen on.
	IPAddr string

	// Port is the port to listen on.
	Port uint16
}

// NewUDPConfig returns the default configuration for the UDP stage.
func NewUDPConfig() *UDPConfig {
	return &UDPConfig{
		DispatchConfig: newDispatchConfig(),

		IPAddr: DefaultUDPConfigIPAddr,
		Port:   DefaultUDPConfigPort,
	}
}

// Validate checks the configuration.
func (c *UDPConfig) Validate(ac *config.AnomalyCollector) {
	c.DispatchConfig.Validate(ac)

	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultUDPConfigIPAddr)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*udpSource)(nil)

// udpSource reads "topic,payload" datagrams.
type udpSource struct {
	tel *internal.Telemetry

	conn *net.UDPConn
}

func newUDPSource() *udpSource {
	return &udpSource{}
}

func (us *udpSource) setTelemetry(tel *internal.Telemetry) {
	us.tel = tel
}

func (us *udpSource) init(ipAddr string, port uint16) error {
	parsedAddr, err := netip.ParseAddr(ipAddr)
	if err != nil {
		return err
	}

	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, port))
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	us.conn = conn

	return nil
}

func (us *udpSource) localAddr() net.Addr {
	return us.conn.LocalAddr()
}

func (us *udpSource) run(ctx context.Context, d *dispatcher) {
	// Hacky method to close the connection when the context is done
	go func() {
		<-ctx.Done()
		us.conn.Close()
	}()

	if err := d.dispatch(ctx, Event{Kind: EventConnected}); err != nil {
		us.tel.LogError("failed to dispatch event", err)
	}

	defer func() {
		if err := d.dispatch(ctx, Event{Kind: EventDisconnected}); err != nil {
			us.tel.LogError("failed to dispatch event", err)
		}
	}()

	buf := make([]byte, udpPayloadSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read the UDP payload
		n, err := us.conn.Read(buf)
		if err != nil {
			// Check if the connection is closed
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}

			_ = d.dispatch(ctx, Event{Kind: EventError, Err: err})
			return
		}

		if n == 0 {
			continue
		}

		topic, payload := chunk.Split(buf[:n])

		// A dropped record is already reported by the dispatcher
		_ = d.dispatch(ctx, DataEvent(topic, payload))
	}
}

/////////////
//  STAGE  //
/////////////

// UDPStage is an ingress stage that reads "topic,payload" UDP datagrams.
type UDPStage struct {
	*stage[*UDPConfig]

	source *udpSource
}

// NewUDPStage returns a new UDP stage.
func NewUDPStage(outputConnector SubscriptionConnector, cfg *UDPConfig) *UDPStage {
	source := newUDPSource()

	return &UDPStage{
		stage: newStage("udp", source, outputConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (us *UDPStage) Init(ctx context.Context) error {
	if err := us.stage.Init(ctx); err != nil {
		return err
	}

	return us.source.init(us.cfg.IPAddr, us.cfg.Port)
}

// LocalAddr returns the address the stage is listening on.
// It must be called after Init.
func (us *UDPStage) LocalAddr() net.Addr {
	return us.source.localAddr()
}
