// Package client talks to the reconcile service HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crimeapps/drc-integration/common/httputil"
)

// idFields maps a category to the record id key the DRC uses in
// acknowledgements.
var idFields = map[string]string{
	"contribution": "concorContributionId",
	"fdc":          "fdcId",
}

type ReconcileClient struct {
	baseURL string
	token   string
	client  *http.Client
}

type FailedRecord struct {
	RecordID   int64  `json:"record_id"`
	MaatID     int64  `json:"maat_id"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type RunReport struct {
	BatchID        int64          `json:"batch_id"`
	Category       string         `json:"category"`
	FileName       string         `json:"file_name,omitempty"`
	Extracted      int            `json:"extracted"`
	Accepted       int            `json:"accepted"`
	Conflict       int            `json:"conflict"`
	Rejected       int            `json:"rejected"`
	Unavailable    int            `json:"unavailable"`
	EnvelopeErrors int            `json:"envelope_errors"`
	Failed         []FailedRecord `json:"failed,omitempty"`
	Aborted        bool           `json:"aborted,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

type AuditEvent struct {
	ID             int64     `json:"id"`
	BatchID        *int64    `json:"batch_id,omitempty"`
	TraceID        *int64    `json:"trace_id,omitempty"`
	MaatID         *int64    `json:"maat_id,omitempty"`
	ContributionID *int64    `json:"concor_contribution_id,omitempty"`
	FdcID          *int64    `json:"fdc_id,omitempty"`
	RecordType     string    `json:"record_type"`
	EventType      string    `json:"event_type"`
	HTTPStatus     *int      `json:"http_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordID returns whichever record reference is set, or 0.
func (e AuditEvent) RecordID() int64 {
	switch {
	case e.ContributionID != nil:
		return *e.ContributionID
	case e.FdcID != nil:
		return *e.FdcID
	}
	return 0
}

type BatchSummary struct {
	BatchID  int64          `json:"batch_id"`
	Events   []AuditEvent   `json:"events"`
	ByType   map[string]int `json:"by_type"`
	Statuses map[int]int    `json:"statuses,omitempty"`
	Records  []int64        `json:"records"`
}

type PurgeResult struct {
	Before  time.Time `json:"before"`
	Deleted int64     `json:"deleted"`
}

// Ack is an acknowledgement as the DRC would send it.
type Ack struct {
	Category string
	RecordID int64
	MaatID   int64
	Title    string
	Detail   string
}

func NewReconcileClient(baseURL string) *ReconcileClient {
	return &ReconcileClient{
		baseURL: baseURL,
		// Runs are synchronous and can take minutes.
		client: &http.Client{Timeout: 10 * time.Minute},
	}
}

// WithToken sets the bearer token sent on operator requests.
func (c *ReconcileClient) WithToken(token string) *ReconcileClient {
	c.token = token
	return c
}

func (c *ReconcileClient) doRequest(method, path, token string, body []byte, contentType string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.client.Do(req)
}

// do sends the request and decodes a 2xx JSON answer into out. Anything
// else comes back as a *httputil.Problem.
func (c *ReconcileClient) do(method, path string, out any) error {
	resp, err := c.doRequest(method, path, c.token, nil, "")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	if p := httputil.ParseProblem(resp.StatusCode, resp.Header.Get("Content-Type"), body); p != nil {
		return p
	}
	return &httputil.Problem{
		Status: resp.StatusCode,
		Title:  http.StatusText(resp.StatusCode),
		Detail: string(bytes.TrimSpace(body)),
	}
}

// TriggerRun starts a run and waits for its report.
func (c *ReconcileClient) TriggerRun(category string) (*RunReport, error) {
	var report RunReport
	if err := c.do(http.MethodPost, "/api/v1/runs/"+url.PathEscape(category), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// PurgeAudit deletes audit events, or submission errors when errorsOnly is
// set, created before the cutoff.
func (c *ReconcileClient) PurgeAudit(before time.Time, errorsOnly bool) (*PurgeResult, error) {
	path := "/api/v1/audit"
	if errorsOnly {
		path += "/errors"
	}
	path += "?before=" + url.QueryEscape(before.UTC().Format(time.RFC3339))

	var result PurgeResult
	if err := c.do(http.MethodDelete, path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *ReconcileClient) BatchSummary(batchID int64) (*BatchSummary, error) {
	var summary BatchSummary
	if err := c.do(http.MethodGet, "/api/v1/audit/batches/"+strconv.FormatInt(batchID, 10), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SendAck posts an acknowledgement and returns the plain-text answer.
func (c *ReconcileClient) SendAck(a Ack, token string) (string, error) {
	idField, ok := idFields[a.Category]
	if !ok {
		return "", fmt.Errorf("unknown category %q", a.Category)
	}

	data := map[string]any{
		idField:  a.RecordID,
		"report": map[string]string{"title": a.Title, "detail": a.Detail},
	}
	if a.MaatID > 0 {
		data["maatId"] = a.MaatID
	}
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal acknowledgement: %w", err)
	}

	resp, err := c.doRequest(http.MethodPost, "/api/v1/process-update/"+url.PathEscape(a.Category), token, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(text), nil
}
