package ingress

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/internal"
	"github.com/FerroO2000/spilink/internal/chunk"
	"github.com/FerroO2000/spilink/internal/config"
)

const (
	tcpBufSize = 4096
)

//////////////
//  CONFIG  //
//////////////

// Default values for the TCP ingress stage configuration.
const (
	DefaultTCPConfigIPAddr         = "0.0.0.0"
	DefaultTCPConfigPort           = 20_001
	DefaultTCPConfigReadTimeout    = 10 * time.Second
	DefaultTCPConfigMaxMessageSize = 64 << 10
)

// DefaultTCPConfigDelimiter is the default delimiter between records.
var DefaultTCPConfigDelimiter = []byte("\n")

// TCPConfig structs contains the configuration for the TCP ingress stage.
type TCPConfig struct {
	DispatchConfig

	// IPAddr is the IP address of the server to listen on.
	IPAddr string

	// Port is the port to listen on.
	Port uint16

	// ReadTimeout is the timeout for reading from a connection.
	// An idle connection is closed when it expires.
	ReadTimeout time.Duration

	// MaxMessageSize is the maximum size of a record.
	// If the accumulator that is holding the record
	// gets bigger, the connection is closed.
	MaxMessageSize int

	// Delimiter separates the "topic,payload" records of the stream.
	Delimiter []byte
}

// NewTCPConfig returns the default configuration for the TCP ingress stage.
func NewTCPConfig() *TCPConfig {
	return &TCPConfig{
		DispatchConfig: newDispatchConfig(),

		IPAddr:         DefaultTCPConfigIPAddr,
		Port:           DefaultTCPConfigPort,
		ReadTimeout:    DefaultTCPConfigReadTimeout,
		MaxMessageSize: DefaultTCPConfigMaxMessageSize,
		Delimiter:      DefaultTCPConfigDelimiter,
	}
}

// Validate checks the configuration.
func (c *TCPConfig) Validate(ac *config.AnomalyCollector) {
	c.DispatchConfig.Validate(ac)

	config.CheckNotEmpty(ac, "IPAddr", &c.IPAddr, DefaultTCPConfigIPAddr)

	config.CheckNotNegative(ac, "ReadTimeout", &c.ReadTimeout, DefaultTCPConfigReadTimeout)
	config.CheckNotZero(ac, "ReadTimeout", &c.ReadTimeout, DefaultTCPConfigReadTimeout)

	config.CheckNotNegative(ac, "MaxMessageSize", &c.MaxMessageSize, DefaultTCPConfigMaxMessageSize)
	config.CheckNotZero(ac, "MaxMessageSize", &c.MaxMessageSize, DefaultTCPConfigMaxMessageSize)

	config.CheckLen(ac, "Delimiter", &c.Delimiter, DefaultTCPConfigDelimiter)
}

//////////////
//  SOURCE  //
//////////////

var _ source = (*tcpSource)(nil)

// tcpSource accepts connections streaming delimited "topic,payload" records.
type tcpSource struct {
	tel *internal.Telemetry

	wg sync.WaitGroup

	bufPool sync.Pool

	listener *net.TCPListener

	readTimeout time.Duration
	maxMsgSize  int
	delimiter   []byte

	// Metrics
	openConnections atomic.Int64
}

func newTCPSource() *tcpSource {
	return &tcpSource{
		bufPool: sync.Pool{
			New: func() any {
				return make([]byte, tcpBufSize)
			},
		},
	}
}

func (ts *tcpSource) setTelemetry(tel *internal.Telemetry) {
	ts.tel = tel
}

func (ts *tcpSource) init(cfg *TCPConfig) error {
	parsedAddr, err := netip.ParseAddr(cfg.IPAddr)
	if err != nil {
		return err
	}

	addr := netip.AddrPortFrom(parsedAddr, cfg.Port)
	listener, err := net.ListenTCP("tcp", net.TCPAddrFromAddrPort(addr))
	if err != nil {
		return err
	}

	ts.listener = listener

	ts.readTimeout = cfg.ReadTimeout
	ts.maxMsgSize = cfg.MaxMessageSize
	ts.delimiter = cfg.Delimiter

	ts.tel.NewUpDownCounter("open_connections", func() int64 { return ts.openConnections.Load() })

	return nil
}

func (ts *tcpSource) localAddr() net.Addr {
	return ts.listener.Addr()
}

func (ts *tcpSource) run(ctx context.Context, d *dispatcher) {
	go func() {
		<-ctx.Done()
		ts.listener.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ts.listener.Accept()
		if err != nil {
			// Check if the error is because the context is done
			select {
			case <-ctx.Done():
				return

			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}

				ts.tel.LogError("failed to accept connection", err)
				continue
			}
		}

		// Spawn a goroutine to handle the connection
		ts.wg.Go(func() {
			ts.handleConn(ctx, conn, d)
		})
	}
}

func (ts *tcpSource) handleConn(ctx context.Context, conn net.Conn, d *dispatcher) {
	defer conn.Close()

	// Channel to notify when the connection is closed normally
	connClosed := make(chan struct{})
	defer close(connClosed)

	// Close the connection when the context is done
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connClosed:
		}
	}()

	// The first open connection connects the source
	if ts.openConnections.Add(1) == 1 {
		_ = d.dispatch(ctx, Event{Kind: EventConnected})
	}
	defer func() {
		if ts.openConnections.Add(-1) == 0 {
			_ = d.dispatch(ctx, Event{Kind: EventDisconnected})
		}
	}()

	buf := ts.bufPool.Get().([]byte)
	defer ts.bufPool.Put(buf)

	acc := make([]byte, 0, 4*tcpBufSize)

	for {
		conn.SetReadDeadline(time.Now().Add(ts.readTimeout))

		n, err := conn.Read(buf)
		if err != nil {
			// Closed by the client
			if errors.Is(err, io.EOF) {
				return
			}

			if errors.Is(err, net.ErrClosed) {
				select {
				case <-ctx.Done():
					return
				default:
				}
			}

			// Likely caused by the read deadline being exceeded
			_ = d.dispatch(ctx, Event{Kind: EventError, Err: err})
			return
		}

		acc = append(acc, buf[:n]...)

		for {
			idx := bytes.Index(acc, ts.delimiter)
			if idx == -1 {
				break
			}

			if idx > 0 {
				topic, payload := chunk.Split(acc[:idx])
				_ = d.dispatch(ctx, DataEvent(topic, payload))
			}

			acc = acc[idx+len(ts.delimiter):]
		}

		// Prevent accumulator from growing too large
		if len(acc) > ts.maxMsgSize {
			ts.tel.LogWarn("record too large, closing connection", "remote_addr", conn.RemoteAddr().String())
			return
		}
	}
}

func (ts *tcpSource) close() {
	if ts.listener != nil {
		ts.listener.Close()
	}

	ts.wg.Wait()
}

/////////////
//  STAGE  //
/////////////

// TCPStage is an ingress stage that reads delimited records from TCP connections.
type TCPStage struct {
	*stage[*TCPConfig]

	source *tcpSource
}

// NewTCPStage returns a new TCP stage.
func NewTCPStage(outputConnector SubscriptionConnector, cfg *TCPConfig) *TCPStage {
	source := newTCPSource()

	return &TCPStage{
		stage: newStage("tcp", source, outputConnector, cfg),

		source: source,
	}
}

// Init initializes the stage.
func (ts *TCPStage) Init(ctx context.Context) error {
	if err := ts.stage.Init(ctx); err != nil {
		return err
	}

	return ts.source.init(ts.cfg)
}

// LocalAddr returns the address the stage is listening on.
// It must be called after Init.
func (ts *TCPStage) LocalAddr() net.Addr {
	return ts.source.localAddr()
}

// Close closes the stage.
func (ts *TCPStage) Close() {
	ts.source.close()
	ts.stage.Close()
}
