package connector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FerroO2000/spilink/internal/rb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewQueue(t *testing.T) {
	assert := assert.New(t)

	_, err := NewQueue[int](0)
	assert.ErrorIs(err, rb.ErrInvalidCapacity)

	_, err = NewQueue[int](rb.MaxCapacity)
	assert.ErrorIs(err, rb.ErrInvalidCapacity)

	q, err := NewQueue[int](DefaultQueueDepth)
	assert.NoError(err)
	assert.Equal(DefaultQueueDepth, q.Depth())

	assert.Panics(func() { MustNewQueue[int](-1) })
}

func Test_Queue_TrySendDropsWhenFull(t *testing.T) {
	assert := assert.New(t)

	q := MustNewQueue[int](DefaultQueueDepth)

	for val := range DefaultQueueDepth {
		assert.NoError(q.TrySend(val, 0))
	}
	assert.Equal(DefaultQueueDepth, q.Len())

	start := time.Now()
	assert.ErrorIs(q.TrySend(100, 10*time.Millisecond), ErrFull)
	assert.GreaterOrEqual(time.Since(start), 10*time.Millisecond)

	assert.ErrorIs(q.TrySend(100, 0), ErrFull)
	assert.Equal(DefaultQueueDepth, q.Len())

	for val := range DefaultQueueDepth {
		got, err := q.TryReceive(0)
		assert.NoError(err)
		assert.Equal(val, got)
	}
}

func Test_Queue_TryReceiveTimeout(t *testing.T) {
	assert := assert.New(t)

	q := MustNewQueue[string](2)

	_, err := q.TryReceive(0)
	assert.ErrorIs(err, ErrTimeout)

	start := time.Now()
	_, err = q.TryReceive(5 * time.Millisecond)
	assert.ErrorIs(err, ErrTimeout)
	assert.GreaterOrEqual(time.Since(start), 5*time.Millisecond)
}

func Test_Queue_WakeUp(t *testing.T) {
	assert := assert.New(t)

	q := MustNewQueue[int](1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		assert.NoError(q.TrySend(42, 0))
	}()

	got, err := q.TryReceive(time.Second)
	assert.NoError(err)
	assert.Equal(42, got)

	// Fill the queue and free it from another goroutine
	assert.NoError(q.TrySend(1, 0))

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, err := q.TryReceive(0)
		assert.NoError(err)
	}()

	assert.NoError(q.TrySend(2, time.Second))
}

func Test_Queue_Close(t *testing.T) {
	assert := assert.New(t)

	q := MustNewQueue[int](4)
	assert.NoError(q.Write(1))

	q.Close()
	q.Close()

	assert.ErrorIs(q.TrySend(2, time.Millisecond), ErrClosed)
	assert.ErrorIs(q.Write(2), ErrClosed)

	// Queued items are still readable
	got, err := q.Read(t.Context())
	assert.NoError(err)
	assert.Equal(1, got)

	_, err = q.Read(t.Context())
	assert.ErrorIs(err, ErrClosed)

	_, err = q.TryReceive(time.Second)
	assert.ErrorIs(err, ErrClosed)
}

func Test_Queue_CloseWakesReader(t *testing.T) {
	q := MustNewQueue[int](4)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Close()
	}()

	_, err := q.TryReceive(time.Minute)
	assert.ErrorIs(t, err, ErrClosed)
}

func Test_Queue_ReadContext(t *testing.T) {
	q := MustNewQueue[int](4)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()

	_, err := q.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_Queue_FIFO(t *testing.T) {
	const items = 10_000

	q := MustNewQueue[int](DefaultQueueDepth)

	wg := &sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		for val := range items {
			assert.NoError(t, q.Write(val))
		}
	}()

	for expected := range items {
		got, err := q.Read(t.Context())
		require.NoError(t, err)
		require.Equal(t, expected, got)
	}

	wg.Wait()
}
