// Package connector contains the connectors used to link the stages.
package connector

import (
	"context"
	"time"
)

// Connector is the interface of a bounded FIFO channel between two stages.
// A connector has a single writer and a single reader.
type Connector[T any] interface {
	// Write enqueues the item, waiting for space if the connector is full.
	Write(item T) error
	// Read dequeues an item, waiting until one is available
	// or the context is done.
	Read(ctx context.Context) (T, error)

	// TrySend enqueues the item waiting at most timeout for space.
	// It returns [ErrFull] if the item could not be enqueued.
	TrySend(item T, timeout time.Duration) error
	// TryReceive dequeues an item waiting at most timeout.
	// It returns [ErrTimeout] if nothing arrived in time.
	TryReceive(timeout time.Duration) (T, error)

	// Len returns the number of queued items.
	Len() int
	// Close closes the connector. Items already queued can still be read.
	Close()
}
