package client

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimeapps/drc-integration/common/httputil"
)

func TestNewReconcileClient(t *testing.T) {
	c := NewReconcileClient("http://localhost:8090")
	assert.Equal(t, "http://localhost:8090", c.baseURL)
	assert.Equal(t, 10*time.Minute, c.client.Timeout)
}

func TestTriggerRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs/fdc", r.URL.Path)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"batch_id":  41,
			"category":  "fdc",
			"extracted": 3,
			"accepted":  2,
			"rejected":  1,
			"failed":    []map[string]any{{"record_id": 9, "reason": "rejected", "status_code": 400}},
		})
	}))
	defer server.Close()

	report, err := NewReconcileClient(server.URL).TriggerRun("fdc")
	require.NoError(t, err)
	assert.Equal(t, int64(41), report.BatchID)
	assert.Equal(t, 2, report.Accepted)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 400, report.Failed[0].StatusCode)
}

func TestOperatorRequestsCarryToken(t *testing.T) {
	var got []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("Authorization"))
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"deleted": 0})
	}))
	defer server.Close()

	c := NewReconcileClient(server.URL).WithToken("op-token")
	_, err := c.PurgeAudit(time.Now(), false)
	require.NoError(t, err)
	_, err = c.TriggerRun("fdc")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer op-token", "Bearer op-token"}, got)
}

func TestTriggerRun_Problem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteProblem(w, &httputil.Problem{Status: http.StatusConflict, Detail: "a run for this category is already in progress"})
	}))
	defer server.Close()

	_, err := NewReconcileClient(server.URL).TriggerRun("fdc")
	var p *httputil.Problem
	require.True(t, errors.As(err, &p))
	assert.Equal(t, http.StatusConflict, p.Status)
	assert.Contains(t, p.Detail, "already in progress")
}

func TestTriggerRun_PlainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewReconcileClient(server.URL).TriggerRun("fdc")
	var p *httputil.Problem
	require.True(t, errors.As(err, &p))
	assert.Equal(t, http.StatusBadGateway, p.Status)
	assert.Equal(t, "upstream gone", p.Detail)
}

func TestPurgeAudit(t *testing.T) {
	before := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		errorsOnly bool
		wantPath   string
	}{
		{name: "events", wantPath: "/api/v1/audit"},
		{name: "errors", errorsOnly: true, wantPath: "/api/v1/audit/errors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, tt.wantPath, r.URL.Path)
				assert.Equal(t, "2024-06-01T00:00:00Z", r.URL.Query().Get("before"))
				httputil.WriteJSON(w, http.StatusOK, map[string]any{"before": before, "deleted": 12})
			}))
			defer server.Close()

			res, err := NewReconcileClient(server.URL).PurgeAudit(before, tt.errorsOnly)
			require.NoError(t, err)
			assert.Equal(t, int64(12), res.Deleted)
			assert.True(t, before.Equal(res.Before))
		})
	}
}

func TestBatchSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/audit/batches/77", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"batch_id":77,"events":[{"id":1,"fdc_id":5,"record_type":"fdc","event_type":"SENT","http_status":200}],"by_type":{"SENT":1},"statuses":{"200":1},"records":[5]}`)
	}))
	defer server.Close()

	summary, err := NewReconcileClient(server.URL).BatchSummary(77)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ByType["SENT"])
	assert.Equal(t, 1, summary.Statuses[200])
	require.Len(t, summary.Events, 1)
	assert.Equal(t, int64(5), summary.Events[0].RecordID())
}

func TestSendAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/process-update/contribution", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(17), body["data"]["concorContributionId"])
		assert.Equal(t, float64(900), body["data"]["maatId"])
		assert.Equal(t, map[string]any{"title": "Closed", "detail": "case closed"}, body["data"]["report"])

		httputil.WriteText(w, http.StatusOK, "Success")
	}))
	defer server.Close()

	text, err := NewReconcileClient(server.URL).SendAck(Ack{
		Category: "contribution",
		RecordID: 17,
		MaatID:   900,
		Title:    "Closed",
		Detail:   "case closed",
	}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "Success", text)
}

func TestSendAck_UnknownCategory(t *testing.T) {
	_, err := NewReconcileClient("http://unused").SendAck(Ack{Category: "invoices"}, "")
	assert.Error(t, err)
}

func TestSendAck_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		httputil.WriteProblem(w, &httputil.Problem{Status: http.StatusUnauthorized, Detail: "missing authorization header"})
	}))
	defer server.Close()

	_, err := NewReconcileClient(server.URL).SendAck(Ack{Category: "fdc", RecordID: 1, Title: "Success"}, "")
	var p *httputil.Problem
	require.True(t, errors.As(err, &p))
	assert.Equal(t, http.StatusUnauthorized, p.Status)
}
