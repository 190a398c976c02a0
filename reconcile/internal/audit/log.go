// Package audit records every pipeline step in an append-only trail and
// failed acknowledgements in a separate error trail.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

const (
	tableEvents = "drc_process_event"
	tableErrors = "drc_submission_error"
)

// Entry is one audit row to record. RecordID zero means no matched record.
type Entry struct {
	EventType  models.EventType
	Category   models.Category
	BatchID    *int64
	TraceID    *int64
	MaatID     *int64
	RecordID   int64
	HTTPStatus *int
	Payload    string
}

// ErrorEntry is one submission-error row to record.
type ErrorEntry struct {
	Category models.Category
	MaatID   *int64
	RecordID int64
	Title    string
	Detail   string
	Status   int
}

// Log validates entries, assigns surrogate ids and writes through a
// Repository. Writes are detached from caller cancellation so a cancelled
// run still leaves a complete history of what it did.
type Log struct {
	repo   Repository
	ids    IDGenerator
	logger *slog.Logger
}

func NewLog(repo Repository, ids IDGenerator, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{repo: repo, ids: ids, logger: logger}
}

// Record appends one audit event. The event type is mandatory.
func (l *Log) Record(ctx context.Context, e Entry) (*models.AuditEvent, error) {
	eventType, err := models.ParseEventType(string(e.EventType))
	if err != nil {
		return nil, err
	}
	if !e.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, e.Category)
	}

	contributionID, fdcID := models.RecordColumns(e.Category, e.RecordID)
	ev := &models.AuditEvent{
		ID:             l.ids.Generate(),
		BatchID:        e.BatchID,
		TraceID:        e.TraceID,
		MaatID:         e.MaatID,
		ContributionID: contributionID,
		FdcID:          fdcID,
		RecordType:     e.Category,
		EventType:      eventType,
		HTTPStatus:     e.HTTPStatus,
		Payload:        storableText(e.Payload),
	}

	if err := l.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		metrics.AuditWriteErrors.WithLabelValues(tableEvents).Inc()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	metrics.AuditWrites.WithLabelValues(tableEvents, string(eventType)).Inc()
	return ev, nil
}

// RecordError appends one submission-error row.
func (l *Log) RecordError(ctx context.Context, e ErrorEntry) (*models.AckErrorEvent, error) {
	if !e.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, e.Category)
	}

	contributionID, fdcID := models.RecordColumns(e.Category, e.RecordID)
	ev := &models.AckErrorEvent{
		ID:             l.ids.Generate(),
		MaatID:         e.MaatID,
		ContributionID: contributionID,
		FdcID:          fdcID,
		RecordType:     e.Category,
		Title:          storableText(e.Title),
		Detail:         storableText(e.Detail),
		Status:         e.Status,
	}

	if err := l.repo.InsertError(context.WithoutCancel(ctx), ev); err != nil {
		metrics.AuditWriteErrors.WithLabelValues(tableErrors).Inc()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	metrics.AuditWrites.WithLabelValues(tableErrors, "ERROR").Inc()
	return ev, nil
}

// storableText makes s acceptable to a Postgres TEXT column: invalid UTF-8
// and NUL bytes become U+FFFD.
func storableText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "\uFFFD")
}

// PurgeAuditBefore deletes audit events created before ts.
func (l *Log) PurgeAuditBefore(ctx context.Context, ts time.Time) (int64, error) {
	if ts.IsZero() {
		return 0, ErrInvalidCutoff
	}
	n, err := l.repo.PurgeEventsBefore(ctx, ts)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	metrics.AuditPurged.WithLabelValues(tableEvents).Add(float64(n))
	l.logger.Info("purged audit events", slog.Time("before", ts), slog.Int64("count", n))
	return n, nil
}

// PurgeErrorsBefore deletes submission errors created before ts.
func (l *Log) PurgeErrorsBefore(ctx context.Context, ts time.Time) (int64, error) {
	if ts.IsZero() {
		return 0, ErrInvalidCutoff
	}
	n, err := l.repo.PurgeErrorsBefore(ctx, ts)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	metrics.AuditPurged.WithLabelValues(tableErrors).Add(float64(n))
	l.logger.Info("purged submission errors", slog.Time("before", ts), slog.Int64("count", n))
	return n, nil
}

// BatchSummary rebuilds a run from the events sharing batchID.
func (l *Log) BatchSummary(ctx context.Context, batchID int64) (*models.BatchSummary, error) {
	events, err := l.repo.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	summary := &models.BatchSummary{
		BatchID:  batchID,
		Events:   events,
		ByType:   make(map[models.EventType]int),
		Statuses: make(map[int]int),
		Records:  []int64{},
	}
	for _, e := range events {
		summary.ByType[e.EventType]++
		if e.EventType == models.EventSent && e.HTTPStatus != nil {
			summary.Statuses[*e.HTTPStatus]++
		}
		if id, ok := e.RecordID(); ok && !slices.Contains(summary.Records, id) {
			summary.Records = append(summary.Records, id)
		}
	}
	return summary, nil
}

// RecordHistory lists a record's audit events and submission errors.
func (l *Log) RecordHistory(ctx context.Context, category models.Category, recordID int64) ([]*models.AuditEvent, []*models.AckErrorEvent, error) {
	if !category.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", models.ErrUnknownCategory, category)
	}
	events, err := l.repo.ListByRecord(ctx, category, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	errs, err := l.repo.ListErrorsByRecord(ctx, category, recordID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return events, errs, nil
}

// Ping checks the backing store.
func (l *Log) Ping(ctx context.Context) error {
	return l.repo.Ping(ctx)
}
