// Package xfer implements a fixed-capacity pool of duplex transfer descriptors
// backed by a single pre-allocated arena.
package xfer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Alignment is the byte alignment required by the transfer buffers.
// The transfer length must be a multiple of it.
const Alignment = 4

var (
	// ErrInvalidSize is returned when the pool size is not positive.
	ErrInvalidSize = errors.New("transfer pool: invalid size")
	// ErrInvalidLength is returned when the transfer length is not
	// a positive multiple of [Alignment].
	ErrInvalidLength = errors.New("transfer pool: invalid transfer length")
	// ErrExhausted is returned when all the descriptors are in use.
	ErrExhausted = errors.New("transfer pool: no descriptor available")
	// ErrForeignDescriptor is returned when releasing a descriptor
	// that does not belong to the pool.
	ErrForeignDescriptor = errors.New("transfer pool: descriptor does not belong to the pool")
	// ErrNotInUse is returned when releasing a descriptor that is already free.
	ErrNotInUse = errors.New("transfer pool: descriptor is not in use")
	// ErrClosed is returned when the pool has been closed.
	ErrClosed = errors.New("transfer pool: pool is closed")
)

// Descriptor is a fixed-length transmit/receive buffer pair
// handed out by a [Pool].
type Descriptor struct {
	pool  *Pool
	index int
	inUse bool

	tx []byte
	rx []byte

	received int
}

// Index returns the slot index of the descriptor inside its pool.
func (d *Descriptor) Index() int {
	return d.index
}

// Len returns the transfer length of the descriptor.
func (d *Descriptor) Len() int {
	return len(d.tx)
}

// TX returns the transmit buffer.
func (d *Descriptor) TX() []byte {
	return d.tx
}

// RX returns the whole receive buffer.
func (d *Descriptor) RX() []byte {
	return d.rx
}

// SetReceived sets how many bytes of the receive buffer are valid.
// It is called by the transport when the transfer completes.
func (d *Descriptor) SetReceived(n int) {
	d.received = min(max(n, 0), len(d.rx))
}

// Received returns the valid bytes of the receive buffer.
func (d *Descriptor) Received() []byte {
	return d.rx[:d.received]
}

// Reset zeroes both buffers and the received length.
func (d *Descriptor) Reset() {
	clear(d.tx)
	clear(d.rx)
	d.received = 0
}

// Pool is a fixed set of descriptors, all allocated at construction.
// Each descriptor is either free or in use; the pool never hands out
// more descriptors than its size.
//
// Acquire and Release are serialized by the pool's mutex,
// so they can be called from different goroutines.
type Pool struct {
	mux sync.Mutex

	length int
	arena  []byte
	slots  []Descriptor

	closed bool

	_ cpu.CacheLinePad

	inUse     atomic.Int64
	exhausted atomic.Int64
}

// NewPool allocates a pool of size descriptors with transmit and receive
// buffers of exactly length bytes each. The length must be a multiple of [Alignment].
func NewPool(size, length int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	if length <= 0 || length%Alignment != 0 {
		return nil, fmt.Errorf("%w: %d is not a positive multiple of %d", ErrInvalidLength, length, Alignment)
	}

	arena := newAlignedArena(2 * size * length)

	p := &Pool{
		length: length,
		arena:  arena,
		slots:  make([]Descriptor, size),
	}

	for idx := range p.slots {
		txOffset := 2 * idx * length
		rxOffset := txOffset + length

		p.slots[idx] = Descriptor{
			pool:  p,
			index: idx,

			tx: arena[txOffset:rxOffset:rxOffset],
			rx: arena[rxOffset : rxOffset+length : rxOffset+length],
		}
	}

	return p, nil
}

// newAlignedArena returns a zeroed byte slice of the given size
// whose first byte is aligned to [Alignment].
func newAlignedArena(size int) []byte {
	raw := make([]byte, size+Alignment-1)

	offset := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % Alignment); rem != 0 {
		offset = Alignment - rem
	}

	return raw[offset : offset+size : offset+size]
}

// Acquire returns a free descriptor and marks it in use.
// It returns [ErrExhausted] if all the descriptors are in use.
func (p *Pool) Acquire() (*Descriptor, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	for idx := range p.slots {
		desc := &p.slots[idx]
		if desc.inUse {
			continue
		}

		desc.inUse = true
		desc.received = 0
		p.inUse.Add(1)

		return desc, nil
	}

	p.exhausted.Add(1)

	return nil, ErrExhausted
}

// Release marks the descriptor as free.
func (p *Pool) Release(desc *Descriptor) error {
	if desc == nil || desc.pool != p {
		return ErrForeignDescriptor
	}

	p.mux.Lock()
	defer p.mux.Unlock()

	if desc.index < 0 || desc.index >= len(p.slots) || &p.slots[desc.index] != desc {
		return ErrForeignDescriptor
	}

	if !desc.inUse {
		return fmt.Errorf("%w: descriptor %d", ErrNotInUse, desc.index)
	}

	desc.inUse = false
	p.inUse.Add(-1)

	return nil
}

// Owns states whether the descriptor belongs to the pool.
func (p *Pool) Owns(desc *Descriptor) bool {
	return desc != nil && desc.pool == p
}

// Size returns the number of descriptors of the pool.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Length returns the transfer length of every descriptor.
func (p *Pool) Length() int {
	return p.length
}

// InUse returns the number of descriptors currently in use.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Exhausted returns how many times an acquisition failed
// because the pool was exhausted.
func (p *Pool) Exhausted() int64 {
	return p.exhausted.Load()
}

// Close tears down the pool, dropping the arena and the descriptors.
// Descriptors still held by callers must not be used afterwards.
func (p *Pool) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for idx := range p.slots {
		p.slots[idx].tx = nil
		p.slots[idx].rx = nil
		p.slots[idx].received = 0
		p.slots[idx].inUse = false
	}

	p.slots = nil
	p.arena = nil
	p.inUse.Store(0)
}
