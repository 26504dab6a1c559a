package transport

import "sync/atomic"

// HandshakeLine is a single logical output read by the remote peer.
// It is driven high while there are transfers still pending.
type HandshakeLine interface {
	Set(high bool) error
}

// HandshakeFunc adapts a function to a [HandshakeLine].
type HandshakeFunc func(high bool) error

// Set calls the function.
func (f HandshakeFunc) Set(high bool) error {
	return f(high)
}

var _ HandshakeLine = (*MemoryLine)(nil)

// MemoryLine is an in-memory handshake line.
// It records the current level and how many times it toggled.
type MemoryLine struct {
	level   atomic.Bool
	toggles atomic.Int64
}

// NewMemoryLine returns a new in-memory handshake line (low).
func NewMemoryLine() *MemoryLine {
	return &MemoryLine{}
}

// Set sets the level of the line.
func (l *MemoryLine) Set(high bool) error {
	if l.level.Swap(high) != high {
		l.toggles.Add(1)
	}
	return nil
}

// High states whether the line is high.
func (l *MemoryLine) High() bool {
	return l.level.Load()
}

// Toggles returns the number of level changes.
func (l *MemoryLine) Toggles() int64 {
	return l.toggles.Load()
}
