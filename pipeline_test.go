package spilink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FerroO2000/spilink/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStage struct {
	inits  atomic.Int64
	runs   atomic.Int64
	closes atomic.Int64

	stop chan struct{}
}

func newCountingStage() *countingStage {
	return &countingStage{stop: make(chan struct{})}
}

func (s *countingStage) Init(_ context.Context) error {
	s.inits.Add(1)
	return nil
}

func (s *countingStage) Run(ctx context.Context) {
	s.runs.Add(1)

	select {
	case <-ctx.Done():
	case <-s.stop:
	}
}

func (s *countingStage) Close() {
	if s.closes.Add(1) == 1 {
		close(s.stop)
	}
}

func Test_Pipeline(t *testing.T) {
	assert := assert.New(t)

	first := newCountingStage()
	second := newCountingStage()

	pipeline := NewPipeline()
	pipeline.AddStage(first)
	pipeline.AddStage(second)

	require.NoError(t, pipeline.Init(t.Context()))

	pipeline.Run(t.Context())
	// A running pipeline does not accept new stages
	pipeline.AddStage(newCountingStage())
	assert.Len(pipeline.stages, 2)

	assert.Eventually(func() bool {
		return first.runs.Load() == 1 && second.runs.Load() == 1
	}, time.Second, time.Millisecond)

	pipeline.Close()

	for _, stage := range []*countingStage{first, second} {
		assert.Equal(int64(1), stage.inits.Load())
		assert.Equal(int64(1), stage.closes.Load())
	}
}

func Test_NewConnector(t *testing.T) {
	conn, err := NewConnector[int](connector.DefaultQueueDepth)
	require.NoError(t, err)

	require.NoError(t, conn.TrySend(1, 0))
	item, err := conn.TryReceive(0)
	require.NoError(t, err)
	assert.Equal(t, 1, item)

	_, err = NewConnector[int](0)
	assert.Error(t, err)
}
