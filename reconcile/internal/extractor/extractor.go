// Package extractor pages eligible records out of the case-management
// system. Paging is keyed by the last record id seen, so a failed page can be
// re-requested without disturbing the cursor.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

var (
	ErrCursorNotAdvancing = errors.New("source returned a record id not greater than the cursor")
	ErrPageOverflow       = errors.New("source returned more records than the page size")
	ErrStatusMismatch     = errors.New("source returned a record outside the status filter")
	ErrTooManyPages       = errors.New("source did not signal exhaustion within the page limit")
)

// RecordSource reads one page of records for a category.
//
// A page holds at most pageSize records with id > afterID and status equal to
// status, ascending by id. An empty page means the filter is exhausted.
type RecordSource interface {
	FetchPage(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error)
}

// FetchError is a failed page read.
type FetchError struct {
	Category   models.Category
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s page: status %d: %v", e.Category, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s page: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a FetchError marked retryable.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}

type Options struct {
	// Retries is the number of extra attempts for a retryable page failure.
	Retries    int
	RetryDelay time.Duration
	// MaxPages bounds paging per status as a guard against a source that
	// never returns an empty page. Zero means 10000.
	MaxPages int
	Logger   *slog.Logger
}

type Extractor struct {
	source RecordSource
	opts   Options
	logger *slog.Logger
}

func New(source RecordSource, opts Options) *Extractor {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10000
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{source: source, opts: opts, logger: logger}
}

// FetchPage reads one page, retrying retryable failures with the same cursor,
// and verifies the page honours the source contract.
func (e *Extractor) FetchPage(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.opts.RetryDelay); err != nil {
				return nil, err
			}
		}

		page, err := e.source.FetchPage(ctx, kind, status, afterID, pageSize)
		if err == nil {
			if err := checkPage(status, afterID, pageSize, page); err != nil {
				return nil, fmt.Errorf("%s page after %d: %w", kind.Category, afterID, err)
			}
			for i := range page {
				page[i].Category = kind.Category
			}
			return page, nil
		}

		lastErr = err
		retryable := IsRetryable(err)
		metrics.PageFetchErrors.WithLabelValues(string(kind.Category), strconv.FormatBool(retryable)).Inc()
		if !retryable || ctx.Err() != nil {
			return nil, err
		}
		e.logger.WarnContext(ctx, "page fetch failed, retrying",
			logging.Category(string(kind.Category)),
			slog.Int64("after_id", afterID),
			logging.Attempt(attempt+1),
			logging.Error(err))
	}
	return nil, fmt.Errorf("fetch page after %d attempts: %w", e.opts.Retries+1, lastErr)
}

// FetchAll pages through every eligible status of kind until each is
// exhausted and returns the union ordered by record id. A record that moved
// between statuses mid-run is kept once.
func (e *Extractor) FetchAll(ctx context.Context, kind *models.RecordKind, pageSize int) ([]models.Record, error) {
	seen := make(map[int64]struct{})
	var all []models.Record

	for _, status := range kind.EligibleStatuses {
		afterID := int64(0)
		for pages := 0; ; pages++ {
			if pages >= e.opts.MaxPages {
				return nil, fmt.Errorf("%s status %s: %w (%d)", kind.Category, status, ErrTooManyPages, e.opts.MaxPages)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			page, err := e.FetchPage(ctx, kind, status, afterID, pageSize)
			if err != nil {
				return nil, err
			}
			if len(page) == 0 {
				break
			}

			for _, r := range page {
				if _, dup := seen[r.ID]; dup {
					continue
				}
				seen[r.ID] = struct{}{}
				all = append(all, r)
			}
			afterID = page[len(page)-1].ID

			e.logger.DebugContext(ctx, "fetched page",
				logging.Category(string(kind.Category)),
				slog.String("status", status),
				logging.Count(len(page)),
				slog.Int64("last_id", afterID))
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	metrics.RecordsExtracted.WithLabelValues(string(kind.Category)).Add(float64(len(all)))
	return all, nil
}

func checkPage(status string, afterID int64, pageSize int, page []models.Record) error {
	if len(page) > pageSize {
		return fmt.Errorf("%w: got %d, limit %d", ErrPageOverflow, len(page), pageSize)
	}
	prev := afterID
	for _, r := range page {
		if r.ID <= prev {
			return fmt.Errorf("%w: %d after %d", ErrCursorNotAdvancing, r.ID, prev)
		}
		if r.Status != status {
			return fmt.Errorf("%w: record %d has status %q, want %q", ErrStatusMismatch, r.ID, r.Status, status)
		}
		prev = r.ID
	}
	return nil
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
