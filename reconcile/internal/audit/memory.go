package audit

import (
	"context"
	"sync"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// MemoryRepository keeps rows in process memory. It backs tests and the
// "memory" audit backend for local runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
	errors []*models.AckErrorEvent
	ids    map[int64]struct{}
	now    func() time.Time
	// FailWith, when set, is returned by every write.
	FailWith error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		ids: make(map[int64]struct{}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the server-side clock used for CreatedAt.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) InsertEvent(_ context.Context, e *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWith != nil {
		return r.FailWith
	}
	if _, dup := r.ids[e.ID]; dup {
		return ErrDuplicateID
	}
	e.CreatedAt = r.now()
	cp := *e
	r.events = append(r.events, &cp)
	r.ids[e.ID] = struct{}{}
	return nil
}

func (r *MemoryRepository) InsertError(_ context.Context, e *models.AckErrorEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailWith != nil {
		return r.FailWith
	}
	if _, dup := r.ids[e.ID]; dup {
		return ErrDuplicateID
	}
	e.CreatedAt = r.now()
	cp := *e
	r.errors = append(r.errors, &cp)
	r.ids[e.ID] = struct{}{}
	return nil
}

func (r *MemoryRepository) PurgeEventsBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var removed int64
	for _, e := range r.events {
		if e.CreatedAt.Before(before) {
			delete(r.ids, e.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return removed, nil
}

func (r *MemoryRepository) PurgeErrorsBefore(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.errors[:0]
	var removed int64
	for _, e := range r.errors {
		if e.CreatedAt.Before(before) {
			delete(r.ids, e.ID)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.errors = kept
	return removed, nil
}

func (r *MemoryRepository) ListByBatch(_ context.Context, batchID int64) ([]*models.AuditEvent, error) {
	return r.filterEvents(func(e *models.AuditEvent) bool {
		return e.BatchID != nil && *e.BatchID == batchID
	}), nil
}

func (r *MemoryRepository) ListByRecord(_ context.Context, category models.Category, recordID int64) ([]*models.AuditEvent, error) {
	if _, err := recordColumn(category); err != nil {
		return nil, err
	}
	return r.filterEvents(func(e *models.AuditEvent) bool {
		id, ok := e.RecordID()
		return ok && id == recordID && e.RecordType == category
	}), nil
}

func (r *MemoryRepository) ListErrorsByRecord(_ context.Context, category models.Category, recordID int64) ([]*models.AckErrorEvent, error) {
	if _, err := recordColumn(category); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AckErrorEvent
	for _, e := range r.errors {
		id, ok := e.RecordID()
		if ok && id == recordID && e.RecordType == category {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() {}

// Events returns a copy of every stored audit event.
func (r *MemoryRepository) Events() []*models.AuditEvent {
	return r.filterEvents(func(*models.AuditEvent) bool { return true })
}

// Errors returns a copy of every stored submission error.
func (r *MemoryRepository) Errors() []*models.AckErrorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AckErrorEvent, 0, len(r.errors))
	for _, e := range r.errors {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// EventsOfType returns stored events of type t.
func (r *MemoryRepository) EventsOfType(t models.EventType) []*models.AuditEvent {
	return r.filterEvents(func(e *models.AuditEvent) bool { return e.EventType == t })
}

func (r *MemoryRepository) filterEvents(keep func(*models.AuditEvent) bool) []*models.AuditEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AuditEvent
	for _, e := range r.events {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}
