package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/internal/xfer"
	"github.com/eapache/queue"
)

// DefaultLoopbackDepth is the default number of transfers
// that can be in flight on a [Loopback].
const DefaultLoopbackDepth = 4

// ErrInvalidDepth is returned when the loopback depth is not positive.
var ErrInvalidDepth = errors.New("transport: invalid loopback depth")

// Peer is the remote side of a [Loopback].
// Exchange is called once per transfer with the transmitted chunk,
// it fills rx and returns how many bytes of it are valid.
type Peer interface {
	Exchange(tx, rx []byte) int
}

var _ Transport = (*Loopback)(nil)

// Loopback is an in-process duplex transport.
// Every accepted transfer is exchanged with the peer right away
// and queued as completed, in submission order.
type Loopback struct {
	mux sync.Mutex

	peer  Peer
	depth int

	completed *queue.Queue

	completedCh chan struct{}
	spaceCh     chan struct{}

	closed bool

	submitted atomic.Int64
	rejected  atomic.Int64
}

// NewLoopback returns a loopback transport talking to the given peer,
// with at most depth transfers waiting to be polled.
func NewLoopback(peer Peer, depth int) (*Loopback, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}

	return &Loopback{
		peer:  peer,
		depth: depth,

		completed: queue.New(),

		completedCh: make(chan struct{}, 1),
		spaceCh:     make(chan struct{}, 1),
	}, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *Loopback) tryExchange(desc *xfer.Descriptor) (bool, error) {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.closed {
		return false, ErrBadState
	}

	if l.completed.Length() >= l.depth {
		return false, nil
	}

	received := l.peer.Exchange(desc.TX(), desc.RX())
	desc.SetReceived(received)

	l.completed.Add(desc)
	notify(l.completedCh)

	return true, nil
}

// Submit exchanges the descriptor with the peer.
// When the completion queue is full it waits for a poll at most timeout:
// with a zero timeout it returns [ErrNoSpace], otherwise [ErrTimeout].
func (l *Loopback) Submit(desc *xfer.Descriptor, timeout time.Duration) error {
	if desc == nil || desc.Len() == 0 {
		l.rejected.Add(1)
		return fmt.Errorf("%w: invalid descriptor", ErrBadState)
	}

	var deadline <-chan time.Time

	for {
		accepted, err := l.tryExchange(desc)
		if err != nil {
			l.rejected.Add(1)
			return err
		}

		if accepted {
			l.submitted.Add(1)
			return nil
		}

		if timeout <= 0 {
			l.rejected.Add(1)
			if deadline != nil {
				return ErrTimeout
			}
			return ErrNoSpace
		}

		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-l.spaceCh:
		case <-deadline:
			timeout = 0
		}
	}
}

func (l *Loopback) tryPoll() (*xfer.Descriptor, bool) {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.completed.Length() == 0 {
		return nil, false
	}

	desc := l.completed.Remove().(*xfer.Descriptor)
	notify(l.spaceCh)

	return desc, true
}

// PollCompletion returns the oldest completed transfer.
func (l *Loopback) PollCompletion(timeout time.Duration) (*xfer.Descriptor, bool) {
	if desc, ok := l.tryPoll(); ok || timeout <= 0 {
		return desc, ok
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-l.completedCh:
			if desc, ok := l.tryPoll(); ok {
				return desc, true
			}

		case <-timer.C:
			return l.tryPoll()
		}
	}
}

// InFlight returns the number of completed transfers not yet polled.
func (l *Loopback) InFlight() int {
	l.mux.Lock()
	defer l.mux.Unlock()

	return l.completed.Length()
}

// Submitted returns the number of accepted transfers.
func (l *Loopback) Submitted() int64 {
	return l.submitted.Load()
}

// Rejected returns the number of rejected transfers.
func (l *Loopback) Rejected() int64 {
	return l.rejected.Load()
}

// Close stops accepting transfers.
// Completed transfers can still be polled.
func (l *Loopback) Close() {
	l.mux.Lock()
	defer l.mux.Unlock()

	l.closed = true
}

/////////////
//  PEERS  //
/////////////

// EchoPeer sends back every chunk it receives.
type EchoPeer struct{}

// Exchange copies tx into rx.
func (EchoPeer) Exchange(tx, rx []byte) int {
	return copy(rx, tx)
}

// StreamPeer sends its own byte stream, one chunk per transfer,
// zero padding the transfers when it has nothing left to send.
// What it receives is handed to the optional OnReceive callback.
type StreamPeer struct {
	mux sync.Mutex

	frames  *queue.Queue
	current []byte

	// OnReceive is called with every received chunk.
	// The chunk must not be retained.
	OnReceive func(tx []byte)
}

// NewStreamPeer returns a new stream peer.
func NewStreamPeer() *StreamPeer {
	return &StreamPeer{
		frames: queue.New(),
	}
}

// Send queues a frame for transmission towards the local side.
func (p *StreamPeer) Send(frame []byte) {
	p.mux.Lock()
	defer p.mux.Unlock()

	p.frames.Add(frame)
}

// Backlog returns the number of bytes still to be transmitted.
func (p *StreamPeer) Backlog() int {
	p.mux.Lock()
	defer p.mux.Unlock()

	size := len(p.current)
	for idx := range p.frames.Length() {
		size += len(p.frames.Get(idx).([]byte))
	}

	return size
}

// Exchange fills rx with the next bytes of the stream.
func (p *StreamPeer) Exchange(tx, rx []byte) int {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.OnReceive != nil {
		p.OnReceive(tx)
	}

	n := 0
	for n < len(rx) {
		if len(p.current) == 0 {
			if p.frames.Length() == 0 {
				break
			}
			p.current = p.frames.Remove().([]byte)
			continue
		}

		copied := copy(rx[n:], p.current)
		p.current = p.current[copied:]
		n += copied
	}

	clear(rx[n:])

	return len(rx)
}
