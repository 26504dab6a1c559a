package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FerroO2000/spilink/internal/rb"
)

var (
	// ErrClosed is returned when the connector is closed.
	ErrClosed = errors.New("connector: connector is closed")
	// ErrFull is returned when an item cannot be enqueued in time.
	ErrFull = errors.New("connector: connector is full")
	// ErrTimeout is returned when no item was available in time.
	ErrTimeout = errors.New("connector: receive timeout")
)

// DefaultQueueDepth is the default number of items a [Queue] can hold.
const DefaultQueueDepth = 4

var _ Connector[any] = (*Queue[any])(nil)

// Queue is a bounded single producer/single consumer FIFO
// built on top of a ring buffer.
//
// Every cursor mutation of the underlying ring buffer happens
// while holding the queue's mutex; waiting for space or data is done
// outside of it, on the notFull/notEmpty signals.
type Queue[T any] struct {
	mux    sync.Mutex
	buffer *rb.RingBuffer[T]

	notEmpty chan struct{}
	notFull  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a new queue able to hold depth items.
func NewQueue[T any](depth int) (*Queue[T], error) {
	// One slot of the ring buffer is always kept free
	buffer, err := rb.New[T](depth + 1)
	if err != nil {
		return nil, fmt.Errorf("queue depth %d: %w", depth, err)
	}

	return &Queue[T]{
		buffer: buffer,

		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),

		closed: make(chan struct{}),
	}, nil
}

// MustNewQueue is like [NewQueue] but panics if the depth is not valid.
// It is meant to be used with constant depths.
func MustNewQueue[T any](depth int) *Queue[T] {
	q, err := NewQueue[T](depth)
	if err != nil {
		panic(err)
	}
	return q
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *Queue[T]) push(item T) (bool, error) {
	q.mux.Lock()
	defer q.mux.Unlock()

	if q.isClosed() {
		return false, ErrClosed
	}

	if err := q.buffer.Write(item); err != nil {
		return false, nil
	}

	signal(q.notEmpty)

	return true, nil
}

func (q *Queue[T]) pop() (T, bool, error) {
	q.mux.Lock()
	defer q.mux.Unlock()

	item, err := q.buffer.Read()
	if err == nil {
		signal(q.notFull)
		return item, true, nil
	}

	if q.isClosed() {
		return item, false, ErrClosed
	}

	return item, false, nil
}

// TrySend enqueues the item waiting at most timeout for space.
// When the queue stays full the item is NOT enqueued and [ErrFull] is returned:
// it is up to the caller to drop it.
func (q *Queue[T]) TrySend(item T, timeout time.Duration) error {
	var deadline <-chan time.Time

	for {
		pushed, err := q.push(item)
		if err != nil {
			return err
		}
		if pushed {
			return nil
		}

		if timeout <= 0 {
			return ErrFull
		}

		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-q.notFull:
		case <-q.closed:
		case <-deadline:
			// Last attempt before giving up
			timeout = 0
		}
	}
}

// TryReceive dequeues an item waiting at most timeout.
// A timeout is reported with [ErrTimeout] and is not a failure.
func (q *Queue[T]) TryReceive(timeout time.Duration) (T, error) {
	var deadline <-chan time.Time

	for {
		item, popped, err := q.pop()
		if err != nil {
			return item, err
		}
		if popped {
			return item, nil
		}

		if timeout <= 0 {
			return item, ErrTimeout
		}

		if deadline == nil {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		select {
		case <-q.notEmpty:
		case <-q.closed:
		case <-deadline:
			timeout = 0
		}
	}
}

// Write enqueues the item, waiting for space until the queue is closed.
func (q *Queue[T]) Write(item T) error {
	for {
		pushed, err := q.push(item)
		if err != nil {
			return err
		}
		if pushed {
			return nil
		}

		select {
		case <-q.notFull:
		case <-q.closed:
		}
	}
}

// Read dequeues an item, waiting until one is available,
// the queue is closed and drained, or the context is done.
func (q *Queue[T]) Read(ctx context.Context) (T, error) {
	for {
		item, popped, err := q.pop()
		if err != nil {
			return item, err
		}
		if popped {
			return item, nil
		}

		select {
		case <-q.notEmpty:
		case <-q.closed:
		case <-ctx.Done():
			return item, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mux.Lock()
	defer q.mux.Unlock()

	return q.buffer.DataSize()
}

// Depth returns the maximum number of items the queue can hold.
func (q *Queue[T]) Depth() int {
	return q.buffer.Capacity() - 1
}

// Close closes the queue and wakes up any waiting reader or writer.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mux.Lock()
		close(q.closed)
		q.mux.Unlock()
	})
}
