package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crimeapps/drc-integration/common/database"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

const eventColumns = `id, batch_id, trace_id, maat_id, concor_contribution_id, fdc_id,
	record_type, event_type, http_status, payload, created_at`

const errorColumns = `id, maat_id, concor_contribution_id, fdc_id, record_type,
	title, detail, status, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an open pool. The pool is shared with the
// sequencer and is closed by Close.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, e *models.AuditEvent) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO drc_process_event (id, batch_id, trace_id, maat_id, concor_contribution_id, fdc_id,
			record_type, event_type, http_status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		e.ID, e.BatchID, e.TraceID, e.MaatID, e.ContributionID, e.FdcID,
		string(e.RecordType), string(e.EventType), e.HTTPStatus, e.Payload,
	).Scan(&e.CreatedAt)
	if err != nil {
		return mapWriteError("insert audit event", err)
	}
	return nil
}

func (r *PostgresRepository) InsertError(ctx context.Context, e *models.AckErrorEvent) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO drc_submission_error (id, maat_id, concor_contribution_id, fdc_id, record_type,
			title, detail, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.pool.QueryRow(ctx, query,
		e.ID, e.MaatID, e.ContributionID, e.FdcID, string(e.RecordType),
		e.Title, e.Detail, e.Status,
	).Scan(&e.CreatedAt)
	if err != nil {
		return mapWriteError("insert submission error", err)
	}
	return nil
}

func (r *PostgresRepository) PurgeEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.purge(ctx, `DELETE FROM drc_process_event WHERE created_at < $1`, before)
}

func (r *PostgresRepository) PurgeErrorsBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.purge(ctx, `DELETE FROM drc_submission_error WHERE created_at < $1`, before)
}

func (r *PostgresRepository) purge(ctx context.Context, query string, before time.Time) (int64, error) {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListByBatch(ctx context.Context, batchID int64) ([]*models.AuditEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM drc_process_event WHERE batch_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch events: %w", err)
	}
	return collectEvents(rows)
}

func (r *PostgresRepository) ListByRecord(ctx context.Context, category models.Category, recordID int64) ([]*models.AuditEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	column, err := recordColumn(category)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM drc_process_event WHERE `+column+` = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list record events: %w", err)
	}
	return collectEvents(rows)
}

func (r *PostgresRepository) ListErrorsByRecord(ctx context.Context, category models.Category, recordID int64) ([]*models.AckErrorEvent, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	column, err := recordColumn(category)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+errorColumns+` FROM drc_submission_error WHERE `+column+` = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list record errors: %w", err)
	}
	defer rows.Close()

	var out []*models.AckErrorEvent
	for rows.Next() {
		var (
			e          models.AckErrorEvent
			recordType string
			detail     *string
		)
		if err := rows.Scan(&e.ID, &e.MaatID, &e.ContributionID, &e.FdcID, &recordType,
			&e.Title, &detail, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission error: %w", err)
		}
		e.RecordType = models.Category(recordType)
		if detail != nil {
			e.Detail = *detail
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]*models.AuditEvent, error) {
	defer rows.Close()

	var out []*models.AuditEvent
	for rows.Next() {
		var (
			e          models.AuditEvent
			recordType string
			eventType  string
			payload    *string
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.TraceID, &e.MaatID, &e.ContributionID, &e.FdcID,
			&recordType, &eventType, &e.HTTPStatus, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.RecordType = models.Category(recordType)
		e.EventType = models.EventType(eventType)
		if payload != nil {
			e.Payload = *payload
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func recordColumn(c models.Category) (string, error) {
	switch c {
	case models.CategoryContribution:
		return "concor_contribution_id", nil
	case models.CategoryFDC:
		return "fdc_id", nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnknownCategory, c)
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicateID)
	}
	return fmt.Errorf("%s: %w", op, err)
}
