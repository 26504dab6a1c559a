// Package transport contains the duplex transfer transports
// and the handshake lines used to signal pending transfers to the peer.
package transport

import (
	"errors"
	"time"

	"github.com/FerroO2000/spilink/internal/xfer"
)

var (
	// ErrTimeout is returned when a transfer cannot be queued in time.
	ErrTimeout = errors.New("transport: submit timeout")
	// ErrNoSpace is returned when the transport transfer queue is full.
	ErrNoSpace = errors.New("transport: no space for the transfer")
	// ErrBadState is returned when the transport (or the descriptor)
	// is not in a state that allows the transfer.
	ErrBadState = errors.New("transport: bad state")
)

// Transport is a transaction oriented duplex bus.
// Every transfer sends the whole transmit buffer of a descriptor
// and fills its receive buffer with the same number of bytes.
type Transport interface {
	// Submit queues the transfer of the descriptor, waiting at most timeout.
	// It returns nil if the transfer has been accepted, otherwise one of
	// [ErrTimeout], [ErrNoSpace], [ErrBadState].
	Submit(desc *xfer.Descriptor, timeout time.Duration) error

	// PollCompletion returns the next completed transfer, waiting at most timeout.
	// The boolean is false if no transfer completed in time.
	PollCompletion(timeout time.Duration) (*xfer.Descriptor, bool)
}

// SubmitStatus is the outcome of a transfer submission.
type SubmitStatus uint8

const (
	// SubmitAccepted means that the transfer has been queued.
	SubmitAccepted SubmitStatus = iota
	// SubmitRejectedTimeout means that the transfer could not be queued in time.
	SubmitRejectedTimeout
	// SubmitRejectedNoSpace means that the transfer queue was full.
	SubmitRejectedNoSpace
	// SubmitRejectedBadState means that the transport refused the transfer.
	SubmitRejectedBadState
)

func (s SubmitStatus) String() string {
	switch s {
	case SubmitAccepted:
		return "accepted"
	case SubmitRejectedTimeout:
		return "rejected-timeout"
	case SubmitRejectedNoSpace:
		return "rejected-no-space"
	case SubmitRejectedBadState:
		return "rejected-bad-state"
	default:
		return "unknown"
	}
}

// StatusOf maps the error returned by [Transport.Submit] to its status.
// Errors not belonging to the transport taxonomy are reported as bad state.
func StatusOf(err error) SubmitStatus {
	switch {
	case err == nil:
		return SubmitAccepted
	case errors.Is(err, ErrTimeout):
		return SubmitRejectedTimeout
	case errors.Is(err, ErrNoSpace):
		return SubmitRejectedNoSpace
	default:
		return SubmitRejectedBadState
	}
}
