// Package service runs reconciliation passes: extract, envelope, dispatch
// and audit, one category at a time.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/archive"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/dispatch"
	"github.com/crimeapps/drc-integration/reconcile/internal/dlq"
	"github.com/crimeapps/drc-integration/reconcile/internal/envelope"
	"github.com/crimeapps/drc-integration/reconcile/internal/extractor"
	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
	"github.com/crimeapps/drc-integration/reconcile/internal/sequence"
)

// ErrRunInProgress is returned when a category already has a run going.
var ErrRunInProgress = errors.New("a run for this category is already in progress")

// RunNotifier announces finished runs.
type RunNotifier interface {
	PublishRunCompleted(ctx context.Context, report *models.RunReport, runErr error) error
}

// AuditRecorder appends audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) (*models.AuditEvent, error)
}

// Deps are the collaborators of an Orchestrator. Archive, DLQ and Notifier
// are optional.
type Deps struct {
	Sequencer sequence.Sequencer
	Extractor *extractor.Extractor
	Engine    *dispatch.Engine
	Audit     AuditRecorder
	Archive   archive.Archive
	DLQ       dlq.Sink
	Notifier  RunNotifier
}

type Config struct {
	PageSize int
	// Statuses overrides the eligible statuses per category.
	Statuses map[models.Category][]string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Orchestrator drives one run per call to Run. Runs of different
// categories may proceed concurrently; a second run of the same category is
// refused while the first is going.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running map[models.Category]bool
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.DLQ == nil {
		deps.DLQ = dlq.NopSink{}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, running: make(map[models.Category]bool)}
}

// Run performs one reconciliation pass for category. Faults local to a
// record are counted in the report; faults of the sequencer, the source
// after retries, or audit storage abort the run and are returned together
// with the partial report. Cancellation is honoured between records.
func (o *Orchestrator) Run(ctx context.Context, category models.Category) (*models.RunReport, error) {
	kind, err := models.KindFor(category)
	if err != nil {
		return nil, err
	}
	kind = kind.WithStatuses(o.cfg.Statuses[category])

	if !o.acquire(category) {
		return nil, ErrRunInProgress
	}
	defer o.release(category)

	report := &models.RunReport{Category: category, StartedAt: o.cfg.Now().UTC()}
	err = o.run(ctx, kind, report)
	o.finish(ctx, report, err)
	return report, err
}

func (o *Orchestrator) run(ctx context.Context, kind *models.RecordKind, report *models.RunReport) error {
	batchID, err := o.deps.Sequencer.NextBatchID(ctx)
	if err != nil {
		return fmt.Errorf("issue batch id: %w", err)
	}
	report.BatchID = batchID
	logger := o.logger.With(logging.Category(string(kind.Category)), logging.BatchID(batchID))
	logger.InfoContext(ctx, "run started", slog.Any("statuses", kind.EligibleStatuses))

	records, err := o.deps.Extractor.FetchAll(ctx, kind, o.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("extract %s records: %w", kind.Category, err)
	}
	report.Extracted = len(records)

	for _, r := range records {
		if err := o.recordFetched(ctx, batchID, r); err != nil {
			return err
		}
	}

	valid := o.screen(ctx, logger, kind, batchID, records, report)
	if len(valid) == 0 {
		logger.InfoContext(ctx, "nothing to dispatch", logging.Count(report.Extracted))
		return nil
	}

	env, err := envelope.Build(kind, batchID, valid, o.cfg.Now())
	if err != nil {
		// Records passed screen; only an encoder fault lands here.
		for _, r := range valid {
			o.fail(ctx, kind, batchID, r, report, dlq.ReasonEnvelope, 0, 0, 0, err.Error())
		}
		report.EnvelopeErrors += len(valid)
		metrics.EnvelopeErrors.WithLabelValues(string(kind.Category)).Add(float64(len(valid)))
		logger.ErrorContext(ctx, "failed to build envelope", logging.Error(err))
		return nil
	}
	report.FileName = env.Header.FileName
	metrics.EnvelopesBuilt.WithLabelValues(string(kind.Category)).Inc()
	logger.InfoContext(ctx, "envelope built",
		logging.FileName(env.Header.FileName),
		logging.Count(env.Header.RecordCount),
		slog.String("summary", env.Header.Summary()))

	if o.deps.Archive != nil {
		if err := o.deps.Archive.Store(ctx, env); err != nil {
			logger.WarnContext(ctx, "failed to archive envelope", logging.FileName(env.Header.FileName), logging.Error(err))
		}
	}

	for _, r := range valid {
		if err := ctx.Err(); err != nil {
			logger.WarnContext(ctx, "run cancelled", logging.Count(report.Dispatched()))
			return err
		}

		res, err := o.deps.Engine.Send(ctx, batchID, kind, r)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("dispatch record %d: %w", r.ID, err)
		}
		o.tally(ctx, kind, batchID, r, res, report)
	}
	return nil
}

// screen splits out records that cannot be enveloped. Each one is an
// envelope fault for that record only.
func (o *Orchestrator) screen(ctx context.Context, logger *slog.Logger, kind *models.RecordKind, batchID int64, records []models.Record, report *models.RunReport) []models.Record {
	valid := make([]models.Record, 0, len(records))
	for _, r := range records {
		ferr := kind.Validate(r)
		if ferr == nil {
			valid = append(valid, r)
			continue
		}
		recErr := &envelope.RecordError{Category: kind.Category, RecordID: r.ID, Err: ferr}
		report.EnvelopeErrors++
		metrics.EnvelopeErrors.WithLabelValues(string(kind.Category)).Inc()
		logger.WarnContext(ctx, "record excluded from envelope", logging.RecordID(r.ID), logging.Error(recErr))
		o.fail(ctx, kind, batchID, r, report, dlq.ReasonEnvelope, 0, 0, 0, recErr.Error())
	}
	return valid
}

func (o *Orchestrator) tally(ctx context.Context, kind *models.RecordKind, batchID int64, r models.Record, res *dispatch.Result, report *models.RunReport) {
	switch res.Outcome {
	case dispatch.OutcomeAccepted:
		report.Accepted++
	case dispatch.OutcomeConflict:
		report.Conflict++
		o.logger.InfoContext(ctx, "record already held by DRC",
			logging.Category(string(kind.Category)), logging.BatchID(batchID), logging.RecordID(r.ID))
	case dispatch.OutcomeRejected:
		report.Rejected++
		o.fail(ctx, kind, batchID, r, report, dlq.ReasonRejected, res.LastTraceID(), res.StatusCode, len(res.Attempts), res.Detail)
	case dispatch.OutcomeUnavailable:
		report.Unavailable++
		o.fail(ctx, kind, batchID, r, report, dlq.ReasonUnavailable, res.LastTraceID(), res.StatusCode, len(res.Attempts), res.Detail)
	}
}

func (o *Orchestrator) fail(ctx context.Context, kind *models.RecordKind, batchID int64, r models.Record, report *models.RunReport, reason string, traceID int64, status, attempts int, detail string) {
	report.Failed = append(report.Failed, models.FailedRecord{
		RecordID:   r.ID,
		MaatID:     r.MaatID,
		Reason:     reason,
		StatusCode: status,
		Detail:     detail,
	})

	err := o.deps.DLQ.Write(context.WithoutCancel(ctx), &dlq.FailedRecord{
		Timestamp:  o.cfg.Now().UTC(),
		Reason:     reason,
		Category:   kind.Category,
		BatchID:    batchID,
		TraceID:    traceID,
		StatusCode: status,
		Error:      detail,
		Attempts:   attempts,
		Record:     r,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "failed to dead-letter record",
			logging.Category(string(kind.Category)), logging.RecordID(r.ID), logging.Error(err))
	}
}

func (o *Orchestrator) recordFetched(ctx context.Context, batchID int64, r models.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", r.ID, err)
	}
	_, err = o.deps.Audit.Record(ctx, audit.Entry{
		EventType: models.EventFetched,
		Category:  r.Category,
		BatchID:   models.Int64Ptr(batchID),
		MaatID:    models.Int64Ptr(r.MaatID),
		RecordID:  r.ID,
		Payload:   string(payload),
	})
	if err != nil {
		return fmt.Errorf("record FETCHED for record %d: %w", r.ID, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, report *models.RunReport, runErr error) {
	report.FinishedAt = o.cfg.Now().UTC()
	report.Aborted = runErr != nil
	category := string(report.Category)

	status := "success"
	switch {
	case runErr != nil:
		status = "aborted"
	case !report.Succeeded():
		status = "partial"
	}
	metrics.RunsTotal.WithLabelValues(category, status).Inc()
	metrics.RunDuration.WithLabelValues(category).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	metrics.LastRunTimestamp.WithLabelValues(category).Set(float64(report.FinishedAt.Unix()))

	attrs := []any{
		logging.Category(category),
		logging.BatchID(report.BatchID),
		logging.Outcome(status),
		slog.Int("extracted", report.Extracted),
		slog.Int("accepted", report.Accepted),
		slog.Int("conflict", report.Conflict),
		slog.Int("rejected", report.Rejected),
		slog.Int("unavailable", report.Unavailable),
		slog.Int("envelope_errors", report.EnvelopeErrors),
		logging.Duration(report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
	}
	if runErr != nil {
		o.logger.ErrorContext(ctx, "run aborted", append(attrs, logging.Error(runErr))...)
	} else {
		o.logger.InfoContext(ctx, "run finished", attrs...)
	}

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.PublishRunCompleted(context.WithoutCancel(ctx), report, runErr); err != nil {
			o.logger.WarnContext(ctx, "failed to publish run report", logging.Error(err))
		}
	}
}

func (o *Orchestrator) acquire(c models.Category) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[c] {
		return false
	}
	o.running[c] = true
	return true
}

func (o *Orchestrator) release(c models.Category) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, c)
}

// RunAll runs each category in turn. A failed category does not stop the
// others; the errors are joined.
func (o *Orchestrator) RunAll(ctx context.Context, categories []models.Category) ([]*models.RunReport, error) {
	var reports []*models.RunReport
	var errs []error
	for _, c := range categories {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report, err := o.Run(ctx, c)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return reports, errors.Join(errs...)
}
