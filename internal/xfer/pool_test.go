package xfer

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewPool(t *testing.T) {
	assert := assert.New(t)

	_, err := NewPool(0, 32)
	assert.ErrorIs(err, ErrInvalidSize)

	for _, length := range []int{-4, 0, 1, 30, 33} {
		_, err := NewPool(4, length)
		assert.ErrorIs(err, ErrInvalidLength, "length %d", length)
	}

	pool, err := NewPool(4, 32)
	assert.NoError(err)
	assert.Equal(4, pool.Size())
	assert.Equal(32, pool.Length())
	assert.Equal(0, pool.InUse())
	assert.Len(pool.arena, 2*4*32)
}

func Test_Pool_Layout(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool(3, 8)
	require.NoError(t, err)

	seen := make(map[uintptr]struct{})

	for idx := range pool.Size() {
		desc, err := pool.Acquire()
		require.NoError(t, err)

		assert.Equal(idx, desc.Index())
		assert.Equal(8, desc.Len())
		assert.Len(desc.TX(), 8)
		assert.Len(desc.RX(), 8)
		assert.Equal(8, cap(desc.TX()))

		for _, buf := range [][]byte{desc.TX(), desc.RX()} {
			addr := uintptr(unsafe.Pointer(&buf[0]))
			assert.Zero(addr%Alignment, "buffer not aligned")

			_, dup := seen[addr]
			assert.False(dup, "overlapping buffers")
			seen[addr] = struct{}{}
		}
	}

	// Writing the whole tx buffer must not touch the rx one
	desc := &pool.slots[0]
	for i := range desc.TX() {
		desc.TX()[i] = 0xff
	}
	assert.Equal(make([]byte, 8), desc.RX())
}

func Test_Pool_Exhaustion(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool(4, 32)
	require.NoError(t, err)

	descs := make([]*Descriptor, 0, 4)
	for range 4 {
		desc, err := pool.Acquire()
		assert.NoError(err)
		descs = append(descs, desc)
	}

	assert.Equal(4, pool.InUse())

	_, err = pool.Acquire()
	assert.ErrorIs(err, ErrExhausted)
	assert.Equal(int64(1), pool.Exhausted())

	// Releasing any descriptor makes an acquisition succeed again
	assert.NoError(pool.Release(descs[2]))
	assert.Equal(3, pool.InUse())

	desc, err := pool.Acquire()
	assert.NoError(err)
	assert.Same(descs[2], desc)
}

func Test_Pool_Release(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool(2, 4)
	require.NoError(t, err)

	other, err := NewPool(2, 4)
	require.NoError(t, err)

	desc, err := pool.Acquire()
	require.NoError(t, err)

	foreign, err := other.Acquire()
	require.NoError(t, err)

	assert.ErrorIs(pool.Release(nil), ErrForeignDescriptor)
	assert.ErrorIs(pool.Release(foreign), ErrForeignDescriptor)
	assert.ErrorIs(pool.Release(&Descriptor{pool: pool}), ErrForeignDescriptor)
	assert.False(pool.Owns(foreign))
	assert.True(pool.Owns(desc))

	assert.NoError(pool.Release(desc))
	assert.ErrorIs(pool.Release(desc), ErrNotInUse)
	assert.Equal(0, pool.InUse())
}

func Test_Descriptor_Received(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool(1, 8)
	require.NoError(t, err)

	desc, err := pool.Acquire()
	require.NoError(t, err)

	copy(desc.RX(), "abc")
	assert.Empty(desc.Received())

	desc.SetReceived(3)
	assert.Equal([]byte("abc"), desc.Received())

	desc.SetReceived(100)
	assert.Len(desc.Received(), 8)

	desc.SetReceived(-1)
	assert.Empty(desc.Received())

	copy(desc.TX(), "xyz")
	desc.SetReceived(3)
	desc.Reset()
	assert.Equal(make([]byte, 8), desc.TX())
	assert.Equal(make([]byte, 8), desc.RX())
	assert.Empty(desc.Received())
}

func Test_Pool_Concurrent(t *testing.T) {
	const (
		workers = 8
		rounds  = 1_000
	)

	pool, err := NewPool(4, 32)
	require.NoError(t, err)

	wg := &sync.WaitGroup{}

	for range workers {
		wg.Go(func() {
			for range rounds {
				desc, err := pool.Acquire()
				if err != nil {
					assert.ErrorIs(t, err, ErrExhausted)
					continue
				}

				assert.LessOrEqual(t, pool.InUse(), pool.Size())
				assert.NoError(t, pool.Release(desc))
			}
		})
	}

	wg.Wait()

	assert.Equal(t, 0, pool.InUse())
}

func Test_Pool_Close(t *testing.T) {
	assert := assert.New(t)

	pool, err := NewPool(2, 4)
	require.NoError(t, err)

	_, err = pool.Acquire()
	require.NoError(t, err)

	pool.Close()
	pool.Close()

	assert.Equal(0, pool.InUse())
	assert.Equal(0, pool.Size())

	_, err = pool.Acquire()
	assert.ErrorIs(err, ErrClosed)
}
