package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// TraceIDs issues one trace id per delivery attempt.
type TraceIDs interface {
	NextTraceID(ctx context.Context) (int64, error)
}

// AuditRecorder appends audit rows.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) (*models.AuditEvent, error)
}

type Options struct {
	// MaxAttempts bounds deliveries of one record, including the first.
	MaxAttempts int
	RetryDelay  time.Duration
	// DuplicateType is the problem type the DRC uses for already-held records.
	DuplicateType string
	Limiter       RateLimiter
	// ThrottleWait is the pause between rate limiter checks. Zero means 50ms.
	ThrottleWait time.Duration
	Logger       *slog.Logger
}

// Attempt is one delivery try.
type Attempt struct {
	TraceID    int64
	StatusCode int
	Outcome    Outcome
	Err        error
}

// Result is the terminal outcome for one record.
type Result struct {
	RecordID   int64
	MaatID     int64
	Outcome    Outcome
	StatusCode int
	Problem    *httputil.Problem
	Detail     string
	Attempts   []Attempt
}

// LastTraceID is the trace id of the final attempt.
func (r *Result) LastTraceID() int64 {
	if len(r.Attempts) == 0 {
		return 0
	}
	return r.Attempts[len(r.Attempts)-1].TraceID
}

// Engine delivers records with bounded retries. Each attempt takes a fresh
// trace id and leaves exactly one SENT audit row.
type Engine struct {
	target DeliveryTarget
	traces TraceIDs
	audit  AuditRecorder
	opts   Options
	logger *slog.Logger
}

func NewEngine(target DeliveryTarget, traces TraceIDs, recorder AuditRecorder, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Limiter == nil {
		opts.Limiter = NoOpRateLimiter{}
	}
	if opts.ThrottleWait <= 0 {
		opts.ThrottleWait = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{target: target, traces: traces, audit: recorder, opts: opts, logger: logger}
}

// Send delivers rec. The returned error is reserved for shared
// infrastructure faults (trace sequencer, audit storage); every DRC answer,
// including transport failure, is reported through Result.
func (e *Engine) Send(ctx context.Context, batchID int64, kind *models.RecordKind, rec models.Record) (*Result, error) {
	res := &Result{RecordID: rec.ID, MaatID: rec.MaatID}
	category := string(kind.Category)

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, e.opts.RetryDelay); err != nil {
				break
			}
		}

		traceID, err := e.traces.NextTraceID(ctx)
		if err != nil {
			return res, fmt.Errorf("trace id for record %d: %w", rec.ID, err)
		}

		req := BuildRequest(kind, batchID, traceID, rec)
		e.throttle(ctx, category)

		start := time.Now()
		resp, sendErr := e.target.Send(ctx, kind.Category, req)
		metrics.DispatchDuration.WithLabelValues(category).Observe(time.Since(start).Seconds())

		var status int
		var problem *httputil.Problem
		if sendErr == nil {
			status = resp.StatusCode
			problem = resp.Problem
		}
		outcome := Classify(status, problem, e.opts.DuplicateType)
		metrics.DispatchAttempts.WithLabelValues(category, outcome.String()).Inc()

		if err := e.recordSent(ctx, batchID, traceID, kind, rec, req, status); err != nil {
			return res, err
		}

		res.Attempts = append(res.Attempts, Attempt{TraceID: traceID, StatusCode: status, Outcome: outcome, Err: sendErr})
		res.Outcome = outcome
		res.StatusCode = status
		res.Problem = problem
		if sendErr != nil {
			res.Detail = sendErr.Error()
		} else {
			res.Detail = resp.Detail()
		}

		if outcome != OutcomeUnavailable {
			break
		}
		e.logger.WarnContext(ctx, "delivery unavailable",
			logging.Category(category),
			logging.BatchID(batchID),
			logging.TraceID(traceID),
			logging.RecordID(rec.ID),
			logging.Attempt(attempt),
			logging.Status(status),
			slog.String("detail", res.Detail))
	}

	return res, nil
}

func (e *Engine) recordSent(ctx context.Context, batchID, traceID int64, kind *models.RecordKind, rec models.Record, req *Request, status int) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	entry := audit.Entry{
		EventType: models.EventSent,
		Category:  kind.Category,
		BatchID:   models.Int64Ptr(batchID),
		TraceID:   models.Int64Ptr(traceID),
		MaatID:    models.Int64Ptr(rec.MaatID),
		RecordID:  rec.ID,
		Payload:   string(payload),
	}
	if status != 0 {
		entry.HTTPStatus = models.IntPtr(status)
	}
	if _, err := e.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("record SENT for record %d: %w", rec.ID, err)
	}
	return nil
}

// throttle blocks until the limiter admits a call. Limiter faults let the
// call through.
func (e *Engine) throttle(ctx context.Context, key string) {
	for {
		ok, err := e.opts.Limiter.Allow(ctx, key)
		if err != nil {
			e.logger.WarnContext(ctx, "rate limiter unavailable, not throttling", logging.Error(err))
			return
		}
		if ok {
			return
		}
		metrics.RateLimitWaits.Inc()
		if sleep(ctx, e.opts.ThrottleWait) != nil {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
