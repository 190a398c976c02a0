// Package sequence issues batch and trace identifiers. Every backend returns
// values strictly greater than any it returned before, including across
// process restarts for the durable ones; gaps are allowed.
package sequence

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrUnavailable wraps any failure of the backing counter. A run cannot
// proceed without identifiers, so callers treat it as fatal.
var ErrUnavailable = errors.New("identity sequencer unavailable")

// Sequencer is safe for concurrent use.
type Sequencer interface {
	NextBatchID(ctx context.Context) (int64, error)
	NextTraceID(ctx context.Context) (int64, error)
}

// MemorySequencer keeps counters in process memory. It survives nothing and
// exists for tests and local runs.
type MemorySequencer struct {
	batch atomic.Int64
	trace atomic.Int64
}

// NewMemorySequencer starts the counters after the given values, so a
// "restarted" sequencer can be built from Snapshot.
func NewMemorySequencer(lastBatch, lastTrace int64) *MemorySequencer {
	s := &MemorySequencer{}
	s.batch.Store(lastBatch)
	s.trace.Store(lastTrace)
	return s
}

func (s *MemorySequencer) NextBatchID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.batch.Add(1), nil
}

func (s *MemorySequencer) NextTraceID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.trace.Add(1), nil
}

// Snapshot returns the last issued batch and trace ids.
func (s *MemorySequencer) Snapshot() (lastBatch, lastTrace int64) {
	return s.batch.Load(), s.trace.Load()
}
