// Package handlers provides HTTP request handlers for the reconciliation
// service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/common/messaging"
	"github.com/crimeapps/drc-integration/reconcile/internal/ack"
	"github.com/crimeapps/drc-integration/reconcile/internal/archive"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/dlq"
	authmw "github.com/crimeapps/drc-integration/reconcile/internal/middleware"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
	"github.com/crimeapps/drc-integration/reconcile/internal/service"
)

// maxAckBody caps inbound acknowledgement bodies.
const maxAckBody = 1 << 20

type AckProcessor interface {
	Process(ctx context.Context, category models.Category, raw []byte, transport string) (*ack.CorrelatedAck, error)
}

type RunTrigger interface {
	Run(ctx context.Context, category models.Category) (*models.RunReport, error)
}

type AuditStore interface {
	PurgeAuditBefore(ctx context.Context, ts time.Time) (int64, error)
	PurgeErrorsBefore(ctx context.Context, ts time.Time) (int64, error)
	BatchSummary(ctx context.Context, batchID int64) (*models.BatchSummary, error)
	RecordHistory(ctx context.Context, category models.Category, recordID int64) ([]*models.AuditEvent, []*models.AckErrorEvent, error)
	Ping(ctx context.Context) error
}

type EnvelopeStore interface {
	Get(ctx context.Context, fileName string) (*archive.Document, error)
}

// DeadLetterStore is the operator view of the dead-letter stream.
type DeadLetterStore interface {
	Stats(ctx context.Context) map[string]any
	List(ctx context.Context, limit int) ([]dlq.FailedRecord, error)
	Purge(ctx context.Context) error
}

// maxDeadLetterList caps GET /api/v1/dlq.
const maxDeadLetterList = 500

// Handler serves the reconciliation HTTP API.
type Handler struct {
	acks    AckProcessor
	runs    RunTrigger
	audit   AuditStore
	archive EnvelopeStore
	dlq     DeadLetterStore
	broker  messaging.Client
	logger  *logging.Logger
}

func NewHandler(acks AckProcessor, runs RunTrigger, auditStore AuditStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{acks: acks, runs: runs, audit: auditStore, logger: logger}
}

// WithArchive enables envelope retrieval.
func (h *Handler) WithArchive(store EnvelopeStore) *Handler {
	h.archive = store
	return h
}

// WithDeadLetters enables the dead-letter endpoints.
func (h *Handler) WithDeadLetters(store DeadLetterStore) *Handler {
	h.dlq = store
	return h
}

// WithBroker adds the message broker connection to the readiness check.
func (h *Handler) WithBroker(client messaging.Client) *Handler {
	h.broker = client
	return h
}

type purgeResponse struct {
	Before  time.Time `json:"before"`
	Deleted int64     `json:"deleted"`
}

type deadLettersResponse struct {
	Stats   map[string]any     `json:"stats"`
	Records []dlq.FailedRecord `json:"records"`
}

type recordHistoryResponse struct {
	Category models.Category         `json:"category"`
	RecordID int64                   `json:"record_id"`
	Events   []*models.AuditEvent    `json:"events"`
	Errors   []*models.AckErrorEvent `json:"errors"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Service string                  `json:"service"`
	Error   string                  `json:"error,omitempty"`
	Broker  *messaging.HealthStatus `json:"broker,omitempty"`
}

// HealthCheck handles GET /healthz
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "reconcile"})
}

// ReadyCheck handles GET /readyz
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ready", Service: "reconcile"}
	status := http.StatusOK

	if h.broker != nil {
		broker := messaging.CheckClientHealth(r.Context(), h.broker)
		resp.Broker = &broker
		if !broker.Connected {
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
			resp.Error = broker.Error
		}
	}
	if err := h.audit.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		resp.Status = "unavailable"
		resp.Error = err.Error()
	}

	httputil.WriteJSON(w, status, resp)
}

// ProcessUpdate handles POST /api/v1/process-update/{category}. Any body the
// processor can store is answered with "Success", including acks that match
// no record; only audit faults surface as errors.
func (h *Handler) ProcessUpdate(w http.ResponseWriter, r *http.Request) {
	category, ok := h.category(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAckBody+1))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(raw) > maxAckBody {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "acknowledgement body too large")
		return
	}

	logger := h.logger.WithContext(r.Context())
	result, err := h.acks.Process(r.Context(), category, raw, ack.TransportHTTP)
	if err != nil {
		logger.Error("failed to process acknowledgement",
			logging.Category(string(category)),
			slog.String("client_ip", httputil.GetClientIP(r)),
			logging.Error(err))
		httputil.WriteProblem(w, &httputil.Problem{
			Status:   http.StatusServiceUnavailable,
			Detail:   "acknowledgement could not be recorded",
			Instance: r.URL.Path,
		})
		return
	}

	logger.Debug("acknowledgement processed",
		logging.Category(string(category)),
		logging.RecordID(result.RecordID),
		logging.Outcome(result.Result()),
		slog.String("client_ip", httputil.GetClientIP(r)))
	httputil.WriteText(w, http.StatusOK, ack.SuccessTitle)
}

// TriggerRun handles POST /api/v1/runs/{category}
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	category, ok := h.category(w, r)
	if !ok {
		return
	}

	// The run continues if the caller disconnects.
	report, err := h.runs.Run(context.WithoutCancel(r.Context()), category)
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		httputil.WriteProblem(w, &httputil.Problem{
			Status:   http.StatusConflict,
			Detail:   err.Error(),
			Instance: r.URL.Path,
		})
	case err != nil:
		h.logger.WithContext(r.Context()).Error("run failed",
			logging.Category(string(category)), logging.Error(err))
		httputil.WriteProblem(w, &httputil.Problem{
			Status:   http.StatusInternalServerError,
			Detail:   err.Error(),
			Instance: r.URL.Path,
		})
	default:
		httputil.WriteJSON(w, http.StatusOK, report)
	}
}

// PurgeAudit handles DELETE /api/v1/audit?before=
func (h *Handler) PurgeAudit(w http.ResponseWriter, r *http.Request) {
	h.purge(w, r, h.audit.PurgeAuditBefore)
}

// PurgeErrors handles DELETE /api/v1/audit/errors?before=
func (h *Handler) PurgeErrors(w http.ResponseWriter, r *http.Request) {
	h.purge(w, r, h.audit.PurgeErrorsBefore)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request, purgeFn func(context.Context, time.Time) (int64, error)) {
	before, err := httputil.ParseTimeParam(r, "before")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := purgeFn(r.Context(), before)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidCutoff) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithContext(r.Context()).Error("purge failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	h.logger.WithContext(r.Context()).Info("audit purged",
		logging.Subject(authmw.GetSubject(r.Context())),
		logging.Path(r.URL.Path),
		slog.Time("before", before),
		logging.Count(int(n)))
	httputil.WriteJSON(w, http.StatusOK, purgeResponse{Before: before, Deleted: n})
}

// GetBatch handles GET /api/v1/audit/batches/{batchId}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.ParseInt64Path(r, "batchId")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.audit.BatchSummary(r.Context(), batchID)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("batch lookup failed",
			logging.BatchID(batchID), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	if len(summary.Events) == 0 {
		httputil.WriteError(w, http.StatusNotFound, "no audit events for batch")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// GetRecordHistory handles GET /api/v1/audit/records/{category}/{recordId}
func (h *Handler) GetRecordHistory(w http.ResponseWriter, r *http.Request) {
	category, ok := h.category(w, r)
	if !ok {
		return
	}
	recordID, err := httputil.ParseInt64Path(r, "recordId")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, errs, err := h.audit.RecordHistory(r.Context(), category, recordID)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("record history lookup failed",
			logging.RecordID(recordID), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordHistoryResponse{
		Category: category,
		RecordID: recordID,
		Events:   events,
		Errors:   errs,
	})
}

// GetEnvelope handles GET /api/v1/envelopes/{name}. The name may carry the
// .xml extension. The archived XML is returned verbatim.
func (h *Handler) GetEnvelope(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		httputil.WriteError(w, http.StatusNotFound, "envelope archive is not enabled")
		return
	}

	name := strings.TrimSuffix(r.PathValue("name"), ".xml")
	doc, err := h.archive.Get(r.Context(), name)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, archive.ErrSignatureMismatch):
		h.logger.WithContext(r.Context()).Error("refusing tampered envelope", logging.FileName(name))
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		h.logger.WithContext(r.Context()).Error("envelope lookup failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "envelope archive unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	if doc.Key != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Key+`"`)
	}
	if doc.Signature != "" {
		w.Header().Set("X-Envelope-Signature", doc.Signature)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, doc.Content); err != nil {
		h.logger.Error("failed to write envelope", logging.Error(err))
	}
}

// ListDeadLetters handles GET /api/v1/dlq?limit=
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "dead-letter queue is not enabled")
		return
	}
	limit, err := httputil.ParseIntParam(r, "limit", 100)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > maxDeadLetterList {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxDeadLetterList))
		return
	}

	records, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		h.logger.WithContext(r.Context()).Error("dead-letter listing failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "dead-letter queue unavailable")
		return
	}
	if records == nil {
		records = []dlq.FailedRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, deadLettersResponse{Stats: h.dlq.Stats(r.Context()), Records: records})
}

// PurgeDeadLetters handles DELETE /api/v1/dlq
func (h *Handler) PurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.dlq == nil {
		httputil.WriteError(w, http.StatusNotFound, "dead-letter queue is not enabled")
		return
	}
	if err := h.dlq.Purge(r.Context()); err != nil {
		h.logger.WithContext(r.Context()).Error("dead-letter purge failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "dead-letter queue unavailable")
		return
	}
	h.logger.WithContext(r.Context()).Info("dead letters purged",
		logging.Subject(authmw.GetSubject(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) category(w http.ResponseWriter, r *http.Request) (models.Category, bool) {
	category, err := models.ParseCategory(r.PathValue("category"))
	if err != nil {
		httputil.WriteProblem(w, &httputil.Problem{
			Status:   http.StatusNotFound,
			Detail:   err.Error(),
			Instance: r.URL.Path,
		})
		return "", false
	}
	return category, true
}
