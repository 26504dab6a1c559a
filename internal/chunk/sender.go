package chunk

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/spilink/internal/xfer"
	"github.com/FerroO2000/spilink/transport"
)

var (
	// ErrPoolExhausted is returned when no descriptor is available for a chunk.
	ErrPoolExhausted = errors.New("chunk: transfer pool exhausted")
	// ErrSubmit is returned when the transport rejects a chunk.
	ErrSubmit = errors.New("chunk: transfer submission failed")
)

// Sender fragments records into chunks of the pool's transfer length
// and submits them to the transport.
//
// It is meant to be driven by a single goroutine, the same one
// that polls the transport and calls [Sender.Complete].
type Sender struct {
	pool      *xfer.Pool
	transport transport.Transport
	pending   *Pending

	submitTimeout time.Duration

	frame []byte

	sentChunks    atomic.Int64
	submitErrors  atomic.Int64
	poolExhausted atomic.Int64
}

// NewSender returns a new sender.
func NewSender(pool *xfer.Pool, tr transport.Transport, pending *Pending, submitTimeout time.Duration) *Sender {
	return &Sender{
		pool:      pool,
		transport: tr,
		pending:   pending,

		submitTimeout: submitTimeout,
	}
}

// Send submits the record as ⌈(len(topic)+len(payload)+2)/L⌉ chunks,
// the last one zero padded. It returns how many chunks were submitted.
//
// A failure aborts the remaining chunks only: the chunks already
// submitted are not rolled back.
func (s *Sender) Send(topic string, payload []byte) (int, error) {
	s.frame = AppendEncode(s.frame[:0], topic, payload)

	length := s.pool.Length()
	total := Count(len(s.frame), length)

	var handshakeErr error

	sent := 0
	for offset := 0; offset < len(s.frame); offset += length {
		desc, err := s.pool.Acquire()
		if err != nil {
			if errors.Is(err, xfer.ErrExhausted) {
				s.poolExhausted.Add(1)
				return sent, fmt.Errorf("%w: chunk %d of %d", ErrPoolExhausted, sent+1, total)
			}
			return sent, err
		}

		tx := desc.TX()
		copied := copy(tx, s.frame[offset:])
		clear(tx[copied:])
		clear(desc.RX())
		desc.SetReceived(0)

		if err := s.transport.Submit(desc, s.submitTimeout); err != nil {
			s.submitErrors.Add(1)

			if relErr := s.pool.Release(desc); relErr != nil {
				err = errors.Join(err, relErr)
			}

			return sent, fmt.Errorf("%w: chunk %d of %d (%s): %w",
				ErrSubmit, sent+1, total, transport.StatusOf(err), err)
		}

		sent++
		s.sentChunks.Add(1)

		if _, err := s.pending.Add(1); err != nil && handshakeErr == nil {
			handshakeErr = err
		}
	}

	return sent, handshakeErr
}

// Complete returns a completed descriptor to the pool
// and decrements the pending count.
func (s *Sender) Complete(desc *xfer.Descriptor) error {
	if err := s.pool.Release(desc); err != nil {
		return err
	}

	_, err := s.pending.Add(-1)
	return err
}

// Pending returns the number of submitted chunks not yet completed.
func (s *Sender) Pending() int64 {
	return s.pending.Load()
}

// SentChunks returns the number of submitted chunks.
func (s *Sender) SentChunks() int64 {
	return s.sentChunks.Load()
}

// SubmitErrors returns the number of chunks rejected by the transport.
func (s *Sender) SubmitErrors() int64 {
	return s.submitErrors.Load()
}

// PoolExhausted returns how many chunks were aborted for lack of descriptors.
func (s *Sender) PoolExhausted() int64 {
	return s.poolExhausted.Load()
}
