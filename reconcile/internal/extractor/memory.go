package extractor

import (
	"context"
	"sort"
	"sync"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// PageRequest records one FetchPage call made against a MemorySource.
type PageRequest struct {
	Category models.Category
	Status   string
	AfterID  int64
	PageSize int
}

// MemorySource is an in-memory RecordSource honouring the paging contract.
type MemorySource struct {
	mu       sync.Mutex
	records  []models.Record
	failures []error
	calls    []PageRequest
}

func NewMemorySource(records ...models.Record) *MemorySource {
	s := &MemorySource{}
	s.Add(records...)
	return s
}

// Add stores records. Later adds with the same category and id replace
// earlier ones.
func (s *MemorySource) Add(records ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		replaced := false
		for i := range s.records {
			if s.records[i].Category == r.Category && s.records[i].ID == r.ID {
				s.records[i] = r.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			s.records = append(s.records, r.Clone())
		}
	}
}

// FailNext makes the next len(errs) calls return errs in order.
func (s *MemorySource) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Calls returns every request served so far.
func (s *MemorySource) Calls() []PageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *MemorySource) FetchPage(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, PageRequest{Category: kind.Category, Status: status, AfterID: afterID, PageSize: pageSize})
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	var matched []models.Record
	for _, r := range s.records {
		if r.Category == kind.Category && r.Status == status && r.ID > afterID {
			matched = append(matched, r.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	if len(matched) > pageSize {
		matched = matched[:pageSize]
	}
	return matched, nil
}
