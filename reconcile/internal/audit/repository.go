package audit

import (
	"context"
	"errors"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

var (
	// ErrStorage wraps every failure of the backing store. The orchestrator
	// aborts a run on it.
	ErrStorage = errors.New("audit storage failure")
	// ErrDuplicateID signals a surrogate id collision.
	ErrDuplicateID = errors.New("audit row id already exists")
	// ErrInvalidCutoff rejects a zero purge timestamp.
	ErrInvalidCutoff = errors.New("purge cutoff must be a non-zero timestamp")
)

// Repository persists the two append-only tables. Rows are never updated;
// they leave only through the purge methods.
type Repository interface {
	// InsertEvent stores e and sets e.CreatedAt to the store's clock.
	InsertEvent(ctx context.Context, e *models.AuditEvent) error
	// InsertError stores e and sets e.CreatedAt to the store's clock.
	InsertError(ctx context.Context, e *models.AckErrorEvent) error
	PurgeEventsBefore(ctx context.Context, before time.Time) (int64, error)
	PurgeErrorsBefore(ctx context.Context, before time.Time) (int64, error)
	// ListByBatch returns a batch's events in insertion order.
	ListByBatch(ctx context.Context, batchID int64) ([]*models.AuditEvent, error)
	// ListByRecord returns a record's events in insertion order.
	ListByRecord(ctx context.Context, category models.Category, recordID int64) ([]*models.AuditEvent, error)
	// ListErrorsByRecord returns a record's submission errors in insertion order.
	ListErrorsByRecord(ctx context.Context, category models.Category, recordID int64) ([]*models.AckErrorEvent, error)
	Ping(ctx context.Context) error
	Close()
}
