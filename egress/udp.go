package egress

import (
	"context"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// Default values for the UDP egress stage configuration.
const (
	DefaultUDPConfigIPAddr = "127.0.0.1"
	DefaultUDPConfigPort   = 20_002
)

// UDPConfig structs contains the configuration for the UDP egress stage.
type UDPConfig struct {
	// IPAddr is the destination IP address.
	IPAddr string

	// Port is the destination port.
	Port uint16
}

// NewUDPConfig returns the default configuration for the UDP egress stage.
func NewUDPConfig() *UDPConfig {
	return &UDPConfig{
		IPAddr: DefaultUDPConfigIPAddr,
		Port:   DefaultUDPConfigPort,
	}
}

// Validate checks the configuration.
func (c *UDPConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultUDPConfigIPAddr)
	config.CheckNotZero(ac, "Port", &c.Port, DefaultUDPConfigPort)
}

/////////////////////////////
//  WORKER IMPLEMENTATION  //
/////////////////////////////

type udpWorker[T msgSer] struct {
	baseWorker

	conn *net.UDPConn

	deliveredBytes *atomic.Int64
}

func newUDPWorkerInstMaker[T msgSer](deliveredBytes *atomic.Int64) workerInstanceMaker[*net.UDPConn, T] {
	return func() workerInstance[*net.UDPConn, T] {
		return &udpWorker[T]{
			deliveredBytes: deliveredBytes,
		}
	}
}

func (uw *udpWorker[T]) Init(_ context.Context, conn *net.UDPConn) error {
	uw.conn = conn

	uw.tel.NewCounter("delivered_bytes", func() int64 { return uw.deliveredBytes.Load() })

	return nil
}

func (uw *udpWorker[T]) Deliver(ctx context.Context, msgIn *msg[T]) error {
	_, span := uw.tel.NewTrace(ctx, "deliver UDP message")
	defer span.End()

	payload := msgIn.GetEnvelope().GetBytes()

	deliveredBytes, err := uw.conn.Write(payload)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("payload_size", len(payload)))

	uw.deliveredBytes.Add(int64(deliveredBytes))

	return nil
}

func (uw *udpWorker[T]) Close(_ context.Context) error {
	return uw.conn.Close()
}

/////////////
//  STAGE  //
/////////////

// UDPStage is an egress stage that sends every record as a UDP datagram.
type UDPStage[T msgSer] struct {
	*stage[*net.UDPConn, T, *UDPConfig]

	deliveredBytes atomic.Int64
}

// NewUDPStage returns a new UDP egress stage.
func NewUDPStage[T msgSer](inputConnector msgConn[T], cfg *UDPConfig) *UDPStage[T] {
	us := &UDPStage[T]{}
	us.stage = newStage("udp", inputConnector, newUDPWorkerInstMaker[T](&us.deliveredBytes), cfg)
	return us
}

// Init initializes the stage.
func (us *UDPStage[T]) Init(ctx context.Context) error {
	// Validate before dialing
	us.stageBase.init()

	parsedAddr, err := netip.ParseAddr(us.config.IPAddr)
	if err != nil {
		return err
	}
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, us.config.Port))

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return err
	}

	us.worker.metrics.init()

	return us.worker.init(ctx, conn)
}

// DeliveredBytes returns the number of bytes sent.
func (us *UDPStage[T]) DeliveredBytes() int64 {
	return us.deliveredBytes.Load()
}
