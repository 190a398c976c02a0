// Package dlq dead-letters records that a run could not deliver so an
// operator can inspect and replay them.
package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// Reasons become the last token of the dead-letter subject.
const (
	ReasonEnvelope    = "envelope"
	ReasonRejected    = "rejected"
	ReasonUnavailable = "unavailable"
)

// FailedRecord is one dead-lettered record.
type FailedRecord struct {
	Timestamp  time.Time       `json:"timestamp"`
	Reason     string          `json:"reason"`
	Category   models.Category `json:"category"`
	BatchID    int64           `json:"batch_id"`
	TraceID    int64           `json:"trace_id,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	Record     models.Record   `json:"record"`
}

// Sink accepts dead-lettered records.
type Sink interface {
	Write(ctx context.Context, f *FailedRecord) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Write(context.Context, *FailedRecord) error { return nil }

// MemorySink keeps dead letters in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []*FailedRecord
}

func (s *MemorySink) Write(_ context.Context, f *FailedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.records = append(s.records, &cp)
	return nil
}

// Records returns everything written so far.
func (s *MemorySink) Records() []*FailedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FailedRecord, len(s.records))
	copy(out, s.records)
	return out
}
