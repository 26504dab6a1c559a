// Package rb provides a fixed-capacity generic circular buffer
// with split reserve/commit cursors.
package rb

import (
	"errors"
	"fmt"
)

// Capacity limits of a ring buffer.
const (
	MinCapacity = 2
	MaxCapacity = 254
)

var (
	// ErrInvalidCapacity is returned when the requested capacity is out of range.
	ErrInvalidCapacity = errors.New("ring buffer: invalid capacity")
	// ErrFull is returned when writing into a full buffer.
	ErrFull = errors.New("ring buffer: buffer is full")
	// ErrEmpty is returned when reading from an empty buffer.
	ErrEmpty = errors.New("ring buffer: buffer is empty")
)

// RingBuffer is a fixed-capacity circular buffer of capacity N.
//
// One slot is always kept unused, so at most N-1 items can be stored
// and the full and empty states never collide.
//
// The buffer tracks two committed cursors (read and write) and two staging
// cursors (next read and next write). The staging cursors allow a record
// to be reserved at the write cursor, populated field by field, and only then
// committed (see [RingBuffer.WriteSlot] and [RingBuffer.CommitWrite]).
//
// A RingBuffer is NOT safe for concurrent use: it is meant to be owned
// by a single goroutine, or guarded by the owner (see connector.Queue).
type RingBuffer[T any] struct {
	size uint8

	readIdx      uint8
	nextReadIdx  uint8
	writeIdx     uint8
	nextWriteIdx uint8

	overflow bool

	buffer []T
}

// New returns a new ring buffer with the given capacity.
// The capacity must be between [MinCapacity] and [MaxCapacity].
func New[T any](capacity int) (*RingBuffer[T], error) {
	if capacity < MinCapacity || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidCapacity, capacity, MinCapacity, MaxCapacity)
	}

	rb := &RingBuffer[T]{
		size:   uint8(capacity),
		buffer: make([]T, capacity),
	}
	rb.Clear()

	return rb, nil
}

// Clear resets the cursors and the overflow flag.
// The stored values are left in place and will be overwritten.
func (rb *RingBuffer[T]) Clear() {
	rb.readIdx = 0
	rb.nextReadIdx = 1
	rb.writeIdx = 0
	rb.nextWriteIdx = 1

	rb.overflow = false
}

// Capacity returns the number of slots of the buffer, including the reserved one.
func (rb *RingBuffer[T]) Capacity() int {
	return int(rb.size)
}

// IsEmpty states whether the buffer holds no items.
func (rb *RingBuffer[T]) IsEmpty() bool {
	return rb.readIdx == rb.writeIdx
}

// IsFull states whether the buffer cannot accept another item.
func (rb *RingBuffer[T]) IsFull() bool {
	return rb.nextWriteIdx == rb.readIdx
}

// IsOverflow states whether a [RingBuffer.SafeWrite] was rejected
// since the last clear.
func (rb *RingBuffer[T]) IsOverflow() bool {
	return rb.overflow
}

// ClearOverflow resets the overflow flag.
func (rb *RingBuffer[T]) ClearOverflow() {
	rb.overflow = false
}

// DataSize returns the number of occupied slots.
func (rb *RingBuffer[T]) DataSize() int {
	if rb.writeIdx >= rb.readIdx {
		return int(rb.writeIdx - rb.readIdx)
	}

	return int(rb.size) - int(rb.readIdx-rb.writeIdx)
}

// SpaceRemaining returns the complement of [RingBuffer.DataSize]
// with respect to the capacity, i.e. it counts the reserved slot as well.
func (rb *RingBuffer[T]) SpaceRemaining() int {
	if rb.writeIdx >= rb.readIdx {
		return int(rb.size) - int(rb.writeIdx-rb.readIdx)
	}

	return int(rb.readIdx - rb.writeIdx)
}

func (rb *RingBuffer[T]) advanceWrite() {
	rb.writeIdx = rb.nextWriteIdx
	rb.nextWriteIdx++
	if rb.nextWriteIdx >= rb.size {
		rb.nextWriteIdx = 0
	}
}

func (rb *RingBuffer[T]) advanceRead() {
	rb.readIdx = rb.nextReadIdx
	rb.nextReadIdx++
	if rb.nextReadIdx >= rb.size {
		rb.nextReadIdx = 0
	}
}

// Write stores the value at the write cursor and advances it.
// It returns [ErrFull] and leaves the buffer untouched if there is no space.
func (rb *RingBuffer[T]) Write(value T) error {
	if rb.IsFull() {
		return ErrFull
	}

	rb.buffer[rb.writeIdx] = value
	rb.advanceWrite()

	return nil
}

// SafeWrite stores the value if there is space, otherwise it sets the
// overflow flag. It returns whether the value was stored.
func (rb *RingBuffer[T]) SafeWrite(value T) bool {
	if rb.IsFull() {
		rb.overflow = true
		return false
	}

	rb.buffer[rb.writeIdx] = value
	rb.advanceWrite()

	return true
}

// Read returns the value at the read cursor and advances it.
// It returns [ErrEmpty] if there is nothing to read.
func (rb *RingBuffer[T]) Read() (T, error) {
	if rb.IsEmpty() {
		return *new(T), ErrEmpty
	}

	value := rb.buffer[rb.readIdx]
	rb.advanceRead()

	return value, nil
}

// Peek returns the value at the read cursor without advancing it.
func (rb *RingBuffer[T]) Peek() (T, error) {
	if rb.IsEmpty() {
		return *new(T), ErrEmpty
	}

	return rb.buffer[rb.readIdx], nil
}

// WriteSlot returns a pointer to the slot sitting at the write cursor,
// so that a record can be populated in place before being committed
// with [RingBuffer.CommitWrite]. It returns nil if the buffer is full.
//
// The slot keeps whatever it held the last time it was used,
// which lets callers reuse its storage (e.g. slices).
func (rb *RingBuffer[T]) WriteSlot() *T {
	if rb.IsFull() {
		return nil
	}

	return &rb.buffer[rb.writeIdx]
}

// CommitWrite publishes the slot returned by [RingBuffer.WriteSlot].
func (rb *RingBuffer[T]) CommitWrite() error {
	if rb.IsFull() {
		return ErrFull
	}

	rb.advanceWrite()

	return nil
}

// ReadSlot returns a pointer to the slot sitting at the read cursor.
// The slot stays owned by the buffer until [RingBuffer.CommitRead] is called.
// It returns nil if the buffer is empty.
func (rb *RingBuffer[T]) ReadSlot() *T {
	if rb.IsEmpty() {
		return nil
	}

	return &rb.buffer[rb.readIdx]
}

// CommitRead releases the slot returned by [RingBuffer.ReadSlot].
func (rb *RingBuffer[T]) CommitRead() error {
	if rb.IsEmpty() {
		return ErrEmpty
	}

	rb.advanceRead()

	return nil
}
