package chunk

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/FerroO2000/spilink/transport"
	"golang.org/x/sys/cpu"
)

var (
	// ErrHandshake is returned when the handshake line cannot be driven.
	ErrHandshake = errors.New("chunk: handshake line failure")
	// ErrUnderflow is returned when more transfers complete than were submitted.
	ErrUnderflow = errors.New("chunk: pending count underflow")
)

// Pending counts the transfers submitted but not yet completed,
// and keeps the handshake line high while the count is positive.
type Pending struct {
	mux sync.Mutex

	line  transport.HandshakeLine
	level bool

	_ cpu.CacheLinePad

	count      atomic.Int64
	lineErrors atomic.Int64
}

// NewPending returns a zero pending count driving the given line.
// A nil line is allowed.
func NewPending(line transport.HandshakeLine) *Pending {
	return &Pending{
		line: line,
	}
}

// Add adds delta to the count and updates the handshake line.
// It returns the new count.
func (p *Pending) Add(delta int64) (int64, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	count := p.count.Add(delta)
	if count < 0 {
		p.count.Store(0)
		return 0, fmt.Errorf("%w: %d", ErrUnderflow, count)
	}

	high := count > 0
	if high == p.level || p.line == nil {
		p.level = high
		return count, nil
	}

	if err := p.line.Set(high); err != nil {
		p.lineErrors.Add(1)
		return count, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	p.level = high

	return count, nil
}

// Load returns the current count.
func (p *Pending) Load() int64 {
	return p.count.Load()
}

// LineErrors returns how many times the handshake line could not be set.
func (p *Pending) LineErrors() int64 {
	return p.lineErrors.Load()
}
