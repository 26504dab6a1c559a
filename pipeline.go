// Package spilink provides the main entrypoint for the spilink library.
//
// A spilink pipeline moves the records of a subscription source
// (ingress) through the relay, which forwards them in fixed-size chunks
// over a duplex transport and delivers the records reassembled from what
// the remote peer sends back (egress).
package spilink

import (
	"context"
	"sync"

	"github.com/FerroO2000/spilink/connector"
)

// Stage defines the interface for a generic stage.
type Stage interface {
	// Init initializes the stage.
	Init(ctx context.Context) error
	// Run runs the stage.
	Run(ctx context.Context)
	// Close closes (forever) the stage.
	Close()
}

// Connector represents the interface for a generic connector
// to be used for connecting the stages.
type Connector[T any] = connector.Connector[T]

// NewConnector returns a bounded connector able to hold depth items.
func NewConnector[T any](depth int) (Connector[T], error) {
	q, err := connector.NewQueue[T](depth)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Pipeline represents a generic pipeline.
// It is the entrypoint for the stages.
type Pipeline struct {
	mux sync.Mutex

	stages []Stage

	wg        sync.WaitGroup
	isRunning bool
}

// NewPipeline returns a new pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		stages: []Stage{},
	}
}

// AddStage adds a stage to the pipeline.
// The order of the stages is important: a stage must be added
// after the stages feeding it.
func (p *Pipeline) AddStage(stage Stage) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.isRunning {
		return
	}

	p.stages = append(p.stages, stage)
}

// Init initializes all the stages.
func (p *Pipeline) Init(ctx context.Context) error {
	for _, stage := range p.stages {
		if err := stage.Init(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Run runs all the stages.
// It will spawn a goroutine for each stage.
func (p *Pipeline) Run(ctx context.Context) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.isRunning {
		return
	}
	p.isRunning = true

	for _, stage := range p.stages {
		p.wg.Go(func() {
			stage.Run(ctx)
		})
	}
}

// Close closes all the stages, in the order they were added.
// Closing a stage closes its output connector, so the stages
// downstream stop once they have drained their input.
// It blocks until all the stages have returned.
func (p *Pipeline) Close() {
	for _, stage := range p.stages {
		stage.Close()
	}

	p.wg.Wait()
}
