package ack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// Transports label where an acknowledgement came from.
const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

// Recorder is the audit surface the processor writes to.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (*models.AuditEvent, error)
	RecordError(ctx context.Context, e audit.ErrorEntry) (*models.AckErrorEvent, error)
}

// Processor writes one ACKNOWLEDGED row for every acknowledgement and an
// additional error row when the report is not a success.
type Processor struct {
	correlator Correlator
	audit      Recorder
	logger     *slog.Logger
}

func NewProcessor(recorder Recorder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{audit: recorder, logger: logger}
}

// Process correlates and records raw. Only audit storage faults and an
// unknown category are returned as errors.
func (p *Processor) Process(ctx context.Context, category models.Category, raw []byte, transport string) (*CorrelatedAck, error) {
	kind, err := models.KindFor(category)
	if err != nil {
		return nil, err
	}

	ack := p.correlator.Correlate(kind, raw)

	entry := audit.Entry{
		EventType:  models.EventAcknowledged,
		Category:   category,
		RecordID:   ack.RecordID,
		HTTPStatus: models.IntPtr(ack.Status),
		Payload:    string(raw),
	}
	if ack.MaatID > 0 {
		entry.MaatID = models.Int64Ptr(ack.MaatID)
	}
	if ack.BatchID > 0 {
		entry.BatchID = models.Int64Ptr(ack.BatchID)
	}
	if ack.TraceID > 0 {
		entry.TraceID = models.Int64Ptr(ack.TraceID)
	}
	if _, err := p.audit.Record(ctx, entry); err != nil {
		return &ack, fmt.Errorf("record acknowledgement: %w", err)
	}

	if !ack.Success {
		errEntry := audit.ErrorEntry{
			Category: category,
			RecordID: ack.RecordID,
			Title:    ack.Title,
			Detail:   ack.Detail,
			Status:   ack.Status,
		}
		if ack.MaatID > 0 {
			errEntry.MaatID = models.Int64Ptr(ack.MaatID)
		}
		if _, err := p.audit.RecordError(ctx, errEntry); err != nil {
			return &ack, fmt.Errorf("record acknowledgement error: %w", err)
		}
	}

	metrics.AcksReceived.WithLabelValues(string(category), ack.Result(), transport).Inc()

	attrs := []any{
		logging.Category(string(category)),
		logging.RecordID(ack.RecordID),
		logging.Outcome(ack.Result()),
		slog.String("transport", transport),
	}
	switch {
	case ack.Malformed:
		p.logger.WarnContext(ctx, "malformed acknowledgement recorded", append(attrs, slog.String("detail", ack.Detail))...)
	case !ack.Matched:
		p.logger.WarnContext(ctx, "acknowledgement without record reference", attrs...)
	default:
		p.logger.InfoContext(ctx, "acknowledgement recorded", attrs...)
	}
	return &ack, nil
}
