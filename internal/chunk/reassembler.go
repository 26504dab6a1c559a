package chunk

import (
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/FerroO2000/spilink/internal/rb"
)

// ErrInvalidMaxSize is returned when the maximum record size is not positive.
var ErrInvalidMaxSize = errors.New("chunk: invalid max record size")

// Reassembler rebuilds records from the received chunks.
//
// Non-zero bytes are accumulated until a zero byte is found, then the
// accumulated record, if not empty, is moved into the completed backlog.
// Empty records (padding, repeated sentinels) are skipped.
// A record longer than the maximum size is discarded up to its sentinel.
//
// A Reassembler is owned by a single goroutine.
type Reassembler struct {
	maxSize int

	acc        []byte
	discarding bool

	backlog *rb.RingBuffer[[]byte]

	completed atomic.Int64
	dropped   atomic.Int64
	oversized atomic.Int64
}

// NewReassembler returns a reassembler accepting records of at most maxSize bytes
// and keeping at most backlog completed records.
func NewReassembler(maxSize, backlog int) (*Reassembler, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxSize, maxSize)
	}

	buf, err := rb.New[[]byte](backlog + 1)
	if err != nil {
		return nil, fmt.Errorf("reassembler backlog %d: %w", backlog, err)
	}

	return &Reassembler{
		maxSize: maxSize,

		acc: make([]byte, 0, maxSize),

		backlog: buf,
	}, nil
}

// Feed consumes the received bytes of one transfer.
// It returns how many records were completed.
func (r *Reassembler) Feed(rx []byte) int {
	completed := 0

	for _, b := range rx {
		if b != Sentinel {
			if r.discarding {
				continue
			}

			if len(r.acc) == r.maxSize {
				r.acc = r.acc[:0]
				r.discarding = true
				r.oversized.Add(1)
				continue
			}

			r.acc = append(r.acc, b)
			continue
		}

		if r.discarding {
			r.discarding = false
			continue
		}

		if len(r.acc) == 0 {
			continue
		}

		if r.emit() {
			completed++
		}
	}

	return completed
}

func (r *Reassembler) emit() bool {
	defer func() {
		r.acc = r.acc[:0]
	}()

	slot := r.backlog.WriteSlot()
	if slot == nil {
		// Flags the overflow, nothing is written
		r.backlog.SafeWrite(nil)
		r.dropped.Add(1)
		return false
	}

	*slot = append((*slot)[:0], r.acc...)
	if err := r.backlog.CommitWrite(); err != nil {
		r.dropped.Add(1)
		return false
	}

	r.completed.Add(1)

	return true
}

// Next pops the oldest completed record.
func (r *Reassembler) Next() ([]byte, bool) {
	slot := r.backlog.ReadSlot()
	if slot == nil {
		return nil, false
	}

	record := slices.Clone(*slot)
	if err := r.backlog.CommitRead(); err != nil {
		return nil, false
	}

	return record, true
}

// Ready returns the number of completed records waiting to be popped.
func (r *Reassembler) Ready() int {
	return r.backlog.DataSize()
}

// Partial returns the number of bytes of the record being accumulated.
func (r *Reassembler) Partial() int {
	return len(r.acc)
}

// Overflowed states whether a completed record was dropped
// because the backlog was full, and clears the flag.
func (r *Reassembler) Overflowed() bool {
	overflow := r.backlog.IsOverflow()
	r.backlog.ClearOverflow()
	return overflow
}

// Reset drops the partial record and the backlog.
func (r *Reassembler) Reset() {
	r.acc = r.acc[:0]
	r.discarding = false
	r.backlog.Clear()
}

// Completed returns the number of reassembled records.
func (r *Reassembler) Completed() int64 {
	return r.completed.Load()
}

// Dropped returns the number of records dropped because the backlog was full.
func (r *Reassembler) Dropped() int64 {
	return r.dropped.Load()
}

// Oversized returns the number of records discarded for exceeding the maximum size.
func (r *Reassembler) Oversized() int64 {
	return r.oversized.Load()
}
