package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/common/messaging"
	"github.com/crimeapps/drc-integration/common/middleware"
	"github.com/crimeapps/drc-integration/common/tokens"
	"github.com/crimeapps/drc-integration/reconcile/internal/ack"
	"github.com/crimeapps/drc-integration/reconcile/internal/archive"
	"github.com/crimeapps/drc-integration/reconcile/internal/audit"
	"github.com/crimeapps/drc-integration/reconcile/internal/dlq"
	"github.com/crimeapps/drc-integration/reconcile/internal/envelope"
	"github.com/crimeapps/drc-integration/reconcile/internal/handlers"
	authmw "github.com/crimeapps/drc-integration/reconcile/internal/middleware"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
	"github.com/crimeapps/drc-integration/reconcile/internal/service"
)

const secret = "router-test-secret-long-enough-for-hs256"

type fakeRuns struct {
	report *models.RunReport
	err    error
	got    []models.Category
	ctxErr error
}

func (f *fakeRuns) Run(ctx context.Context, c models.Category) (*models.RunReport, error) {
	f.got = append(f.got, c)
	f.ctxErr = ctx.Err()
	return f.report, f.err
}

type fakeDeadLetters struct {
	records []dlq.FailedRecord
	err     error
	limit   int
	purged  bool
}

func (f *fakeDeadLetters) Stats(context.Context) map[string]any {
	return map[string]any{"backend": "fake", "total_messages": len(f.records)}
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]dlq.FailedRecord, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeDeadLetters) Purge(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.purged = true
	f.records = nil
	return nil
}

// brokenAudit fails every read and ping.
type brokenAudit struct{ *audit.Log }

func (brokenAudit) Ping(context.Context) error {
	return errors.New("connection refused")
}

func (brokenAudit) BatchSummary(context.Context, int64) (*models.BatchSummary, error) {
	return nil, audit.ErrStorage
}

// downBroker reports a lost broker connection.
type downBroker struct{}

func (downBroker) Publish(context.Context, string, []byte) error {
	return nil
}

func (downBroker) PublishMsg(context.Context, *messaging.Message) error {
	return nil
}

func (downBroker) Request(context.Context, string, []byte, time.Duration) (*messaging.Message, error) {
	return nil, errors.New("not connected")
}

func (downBroker) Subscribe(string, messaging.MessageHandler) (messaging.Subscription, error) {
	return nil, errors.New("not connected")
}

func (downBroker) QueueSubscribe(string, string, messaging.MessageHandler) (messaging.Subscription, error) {
	return nil, errors.New("not connected")
}

func (downBroker) Close() error {
	return nil
}

func (downBroker) Drain() error {
	return nil
}

func (downBroker) IsConnected() bool {
	return false
}

type env struct {
	handler http.Handler
	repo    *audit.MemoryRepository
	log     *audit.Log
	runs    *fakeRuns
	archive *archive.MemoryArchive
	dlq     *fakeDeadLetters
	tokens  *tokens.Manager
}

func newEnv(t *testing.T, auth bool) *env {
	t.Helper()
	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)

	logger := logging.Discard()
	e := &env{
		repo:    audit.NewMemoryRepository(),
		runs:    &fakeRuns{},
		archive: archive.NewMemoryArchive(nil),
		dlq:     &fakeDeadLetters{},
		tokens:  tokens.NewManager(secret),
	}
	e.log = audit.NewLog(e.repo, ids, logger.Logger)
	h := handlers.NewHandler(ack.NewProcessor(e.log, logger.Logger), e.runs, e.log, logger).
		WithArchive(e.archive).
		WithDeadLetters(e.dlq)

	var validator authmw.TokenValidator
	if auth {
		validator = e.tokens
	}
	e.handler = NewRouter(h, validator)
	return e
}

func (e *env) do(method, target, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httputil.Problem {
	t.Helper()
	assert.Equal(t, httputil.ProblemContentType, rec.Header().Get("Content-Type"))
	var p httputil.Problem
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

func TestHealth(t *testing.T) {
	e := newEnv(t, false)

	rec := e.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = e.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ready"`)
}

func TestReadyz_AuditDown(t *testing.T) {
	h := handlers.NewHandler(nil, &fakeRuns{}, brokenAudit{}, logging.Discard())
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadyz_BrokerDown(t *testing.T) {
	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)
	log := audit.NewLog(audit.NewMemoryRepository(), ids, nil)
	h := handlers.NewHandler(nil, &fakeRuns{}, log, logging.Discard()).WithBroker(downBroker{})

	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected to message broker")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, false)
	e.do(http.MethodPost, "/api/v1/process-update/fdc", `{"data":{"fdcId":1,"report":{"title":"Success"}}}`)

	rec := e.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "drc_acks_received_total")
}

func TestProcessUpdate(t *testing.T) {
	tests := []struct {
		name       string
		category   string
		body       string
		wantStatus int
		wantErrors int
	}{
		{name: "success", category: "fdc", body: `{"data":{"fdcId":42,"maatId":5042,"report":{"title":"Success"}}}`, wantStatus: http.StatusOK},
		{name: "error report", category: "contribution", body: `{"data":{"concorContributionId":17,"report":{"title":"Closed"}}}`, wantStatus: http.StatusOK, wantErrors: 1},
		{name: "malformed", category: "fdc", body: `not json`, wantStatus: http.StatusOK, wantErrors: 1},
		{name: "unknown category", category: "invoices", body: `{}`, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, false)
			rec := e.do(http.MethodPost, "/api/v1/process-update/"+tt.category, tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				decodeProblem(t, rec)
				assert.Empty(t, e.repo.Events())
				return
			}
			assert.Equal(t, ack.SuccessTitle, rec.Body.String())
			assert.Len(t, e.repo.EventsOfType(models.EventAcknowledged), 1)
			assert.Len(t, e.repo.Errors(), tt.wantErrors)
		})
	}
}

func TestProcessUpdate_LogsClientIP(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelDebug, "json")
	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)
	log := audit.NewLog(audit.NewMemoryRepository(), ids, logger.Logger)
	h := handlers.NewHandler(ack.NewProcessor(log, logger.Logger), &fakeRuns{}, log, logger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/process-update/fdc",
		strings.NewReader(`{"data":{"fdcId":42,"report":{"title":"Success"}}}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"client_ip":"203.0.113.9"`)
}

func TestProcessUpdate_StorageFault(t *testing.T) {
	e := newEnv(t, false)
	e.repo.FailWith = errors.New("disk full")

	rec := e.do(http.MethodPost, "/api/v1/process-update/fdc", `{"data":{"fdcId":1,"report":{"title":"Success"}}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "/api/v1/process-update/fdc", p.Instance)
}

func TestProcessUpdate_TooLarge(t *testing.T) {
	e := newEnv(t, false)
	body := `{"data":{"pad":"` + strings.Repeat("x", 1<<20) + `"}}`

	rec := e.do(http.MethodPost, "/api/v1/process-update/fdc", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, e.repo.Events())
}

func TestProcessUpdate_RequiresToken(t *testing.T) {
	e := newEnv(t, true)
	body := `{"data":{"fdcId":42,"report":{"title":"Success"}}}`

	rec := e.do(http.MethodPost, "/api/v1/process-update/fdc", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, e.repo.Events())

	token, err := e.tokens.Issue("drc", "acks", time.Minute)
	require.NoError(t, err)
	rec = e.do(http.MethodPost, "/api/v1/process-update/fdc", body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, e.repo.Events(), 1)

	// Health checks stay open.
	rec = e.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOperatorRoutes_RequireOperatorToken(t *testing.T) {
	e := newEnv(t, true)
	e.runs.report = &models.RunReport{BatchID: 3, Category: models.CategoryFDC}
	_, err := e.log.Record(context.Background(), audit.Entry{
		EventType: models.EventFetched,
		Category:  models.CategoryFDC,
		RecordID:  42,
		BatchID:   models.Int64Ptr(3),
	})
	require.NoError(t, err)

	operator, err := e.tokens.Issue("ops", tokens.ScopeOperator, time.Minute)
	require.NoError(t, err)
	acks, err := e.tokens.Issue("drc", tokens.ScopeAcks, time.Minute)
	require.NoError(t, err)

	before := url.QueryEscape(time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	routes := []struct {
		method string
		path   string
	}{
		{method: http.MethodDelete, path: "/api/v1/audit?before=" + before},
		{method: http.MethodDelete, path: "/api/v1/audit/errors?before=" + before},
		{method: http.MethodPost, path: "/api/v1/runs/fdc"},
		{method: http.MethodGet, path: "/api/v1/audit/batches/3"},
		{method: http.MethodGet, path: "/api/v1/audit/records/fdc/42"},
		{method: http.MethodGet, path: "/api/v1/envelopes/FDC_20240517093012"},
		{method: http.MethodGet, path: "/api/v1/dlq"},
		{method: http.MethodDelete, path: "/api/v1/dlq"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rec := e.do(rt.method, rt.path, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = e.do(rt.method, rt.path, "", "Authorization", "Bearer "+acks)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
	assert.Len(t, e.repo.Events(), 1, "rejected purge must not delete audit rows")
	assert.Empty(t, e.runs.got)
	assert.False(t, e.dlq.purged)

	rec := e.do(http.MethodDelete, "/api/v1/audit?before="+before, "", "Authorization", "Bearer "+operator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, e.repo.Events())

	rec = e.do(http.MethodPost, "/api/v1/runs/fdc", "", "Authorization", "Bearer "+operator)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	e := newEnv(t, false)
	e.runs.report = &models.RunReport{BatchID: 11, Category: models.CategoryFDC, Extracted: 2, Accepted: 2}

	rec := e.do(http.MethodPost, "/api/v1/runs/fdc", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report models.RunReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, int64(11), report.BatchID)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, []models.Category{models.CategoryFDC}, e.runs.got)
}

func TestTriggerRun_SurvivesClientDisconnect(t *testing.T) {
	e := newEnv(t, false)
	e.runs.report = &models.RunReport{BatchID: 12, Category: models.CategoryFDC}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/fdc", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, e.runs.got, 1)
	assert.NoError(t, e.runs.ctxErr, "run must not inherit the request cancellation")
}

func TestTriggerRun_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
	}{
		{name: "in progress", path: "/api/v1/runs/fdc", err: service.ErrRunInProgress, wantStatus: http.StatusConflict},
		{name: "aborted", path: "/api/v1/runs/contribution", err: errors.New("sequencer unavailable"), wantStatus: http.StatusInternalServerError},
		{name: "unknown category", path: "/api/v1/runs/nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, false)
			e.runs.err = tt.err

			rec := e.do(http.MethodPost, tt.path, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.wantStatus, p.Status)
		})
	}
}

func TestPurge(t *testing.T) {
	e := newEnv(t, false)
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.repo.SetClock(func() time.Time { return past })
	e.do(http.MethodPost, "/api/v1/process-update/fdc", `{"data":{"fdcId":1,"report":{"title":"Broken"}}}`)
	e.repo.SetClock(func() time.Time { return time.Now().UTC() })
	e.do(http.MethodPost, "/api/v1/process-update/fdc", `{"data":{"fdcId":2,"report":{"title":"Success"}}}`)

	rec := e.do(http.MethodDelete, "/api/v1/audit?before=2024-06-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"before":"2024-06-01T00:00:00Z","deleted":1}`, rec.Body.String())
	assert.Len(t, e.repo.Events(), 1)

	rec = e.do(http.MethodDelete, "/api/v1/audit/errors?before=2024-06-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"before":"2024-06-01T00:00:00Z","deleted":1}`, rec.Body.String())
	assert.Empty(t, e.repo.Errors())

	rec = e.do(http.MethodDelete, "/api/v1/audit", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurge_LogsSubject(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelInfo, "json")
	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)
	log := audit.NewLog(audit.NewMemoryRepository(), ids, logger.Logger)
	h := handlers.NewHandler(ack.NewProcessor(log, logger.Logger), &fakeRuns{}, log, logger)
	mgr := tokens.NewManager(secret)
	token, err := mgr.Issue("alice", tokens.ScopeOperator, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/audit/errors?before=2024-06-01", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	NewRouter(h, mgr).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"msg":"audit purged"`)
	assert.Contains(t, buf.String(), `"subject":"alice"`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/audit/errors"`)
}

func TestDeadLetters(t *testing.T) {
	e := newEnv(t, false)
	for i := int64(1); i <= 3; i++ {
		e.dlq.records = append(e.dlq.records, dlq.FailedRecord{
			Reason:   "retries_exhausted",
			Category: models.CategoryFDC,
			BatchID:  4,
			Error:    "503 from DRC",
			Attempts: 3,
			Record:   models.Record{Category: models.CategoryFDC, ID: i},
		})
	}

	rec := e.do(http.MethodGet, "/api/v1/dlq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, e.dlq.limit)

	rec = e.do(http.MethodGet, "/api/v1/dlq?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stats   map[string]any     `json:"stats"`
		Records []dlq.FailedRecord `json:"records"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "fake", body.Stats["backend"])
	require.Len(t, body.Records, 2)
	assert.Equal(t, int64(1), body.Records[0].Record.ID)

	for _, q := range []string{"?limit=0", "?limit=501", "?limit=many"} {
		rec = e.do(http.MethodGet, "/api/v1/dlq"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = e.do(http.MethodDelete, "/api/v1/dlq", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, e.dlq.purged)

	rec = e.do(http.MethodGet, "/api/v1/dlq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stats":{"backend":"fake","total_messages":0},"records":[]}`, rec.Body.String())
}

func TestDeadLetters_Unavailable(t *testing.T) {
	e := newEnv(t, false)
	e.dlq.err = errors.New("stream offline")
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/api/v1/dlq", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodDelete, "/api/v1/dlq", "").Code)

	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)
	log := audit.NewLog(audit.NewMemoryRepository(), ids, nil)
	h := handlers.NewHandler(ack.NewProcessor(log, nil), &fakeRuns{}, log, logging.Discard())
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dlq", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// tamperedArchive reports every document as failing verification.
type tamperedArchive struct{}

func (tamperedArchive) Get(_ context.Context, name string) (*archive.Document, error) {
	return nil, fmt.Errorf("%w: %s", archive.ErrSignatureMismatch, name)
}

func TestGetEnvelope_SignatureMismatch(t *testing.T) {
	ids, err := audit.NewSnowflakeIDs(9)
	require.NoError(t, err)
	log := audit.NewLog(audit.NewMemoryRepository(), ids, nil)
	h := handlers.NewHandler(ack.NewProcessor(log, nil), &fakeRuns{}, log, logging.Discard()).
		WithArchive(tamperedArchive{})

	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/envelopes/FDC_20240506070809.xml", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Envelope-Signature"))
	p := decodeProblem(t, rec)
	assert.Contains(t, p.Detail, "FDC_20240506070809")
}

func TestGetBatch(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	for _, id := range []int64{1, 2} {
		_, err := e.log.Record(ctx, audit.Entry{
			EventType: models.EventFetched,
			Category:  models.CategoryFDC,
			BatchID:   models.Int64Ptr(77),
			RecordID:  id,
		})
		require.NoError(t, err)
	}

	rec := e.do(http.MethodGet, "/api/v1/audit/batches/77", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.BatchSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, int64(77), summary.BatchID)
	assert.Equal(t, 2, summary.ByType[models.EventFetched])
	assert.ElementsMatch(t, []int64{1, 2}, summary.Records)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/audit/batches/78", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/audit/batches/abc", "").Code)
}

func TestGetBatch_StorageFault(t *testing.T) {
	h := handlers.NewHandler(nil, &fakeRuns{}, brokenAudit{}, logging.Discard())
	rec := httptest.NewRecorder()
	NewRouter(h, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/batches/1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRecordHistory(t *testing.T) {
	e := newEnv(t, false)
	e.do(http.MethodPost, "/api/v1/process-update/contribution", `{"data":{"concorContributionId":17,"report":{"title":"Closed"}}}`)

	rec := e.do(http.MethodGet, "/api/v1/audit/records/contribution/17", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RecordID int64             `json:"record_id"`
		Events   []json.RawMessage `json:"events"`
		Errors   []json.RawMessage `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(17), body.RecordID)
	assert.Len(t, body.Events, 1)
	assert.Len(t, body.Errors, 1)
}

func TestGetEnvelope(t *testing.T) {
	e := newEnv(t, false)
	rec := models.Record{
		Category: models.CategoryFDC,
		ID:       5,
		MaatID:   9005,
		Status:   "REQUESTED",
		Values: map[string]string{
			"sentenceOrderDate": "2023-09-01",
			"dateCalculated":    "2023-12-12",
			"finalCost":         "2500.75",
		},
	}
	built, err := envelope.Build(models.MustKind(models.CategoryFDC), 31, []models.Record{rec}, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, e.archive.Store(context.Background(), built))

	resp := e.do(http.MethodGet, "/api/v1/envelopes/"+built.Header.FileName, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/xml", resp.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="FDC_20240506070809.xml"`, resp.Header().Get("Content-Disposition"))
	assert.Equal(t, string(built.Data), resp.Body.String())

	resp = e.do(http.MethodGet, "/api/v1/envelopes/"+built.Key(), "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = e.do(http.MethodGet, "/api/v1/envelopes/FDC_19990101000000", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}
