package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/middleware"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

const maxResponseBody = 1 << 20

// DeliveryTarget sends one request to the DRC. A non-nil error means the
// call failed at the transport level and no answer was received.
type DeliveryTarget interface {
	Send(ctx context.Context, category models.Category, req *Request) (*Response, error)
}

type HTTPTargetConfig struct {
	BaseURL          string
	ContributionPath string
	FDCPath          string
	// Token is sent as a bearer credential when set.
	Token   string
	Timeout time.Duration
}

// HTTPTarget posts JSON requests to the DRC REST API.
type HTTPTarget struct {
	baseURL    string
	paths      map[models.Category]string
	token      string
	httpClient *http.Client
}

func NewHTTPTarget(cfg HTTPTargetConfig) *HTTPTarget {
	return &HTTPTarget{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		paths: map[models.Category]string{
			models.CategoryContribution: cfg.ContributionPath,
			models.CategoryFDC:          cfg.FDCPath,
		},
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *HTTPTarget) Send(ctx context.Context, category models.Category, req *Request) (*Response, error) {
	path, ok := t.paths[category]
	if !ok || path == "" {
		return nil, fmt.Errorf("no delivery path configured for %s", category)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, "+httputil.ProblemContentType)
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}
	if id := middleware.GetRequestID(ctx); id != "" {
		httpReq.Header.Set(middleware.RequestIDHeader, id)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: respBody}
	if resp.StatusCode >= 300 {
		out.Problem = httputil.ParseProblem(resp.StatusCode, resp.Header.Get("Content-Type"), respBody)
	}
	return out, nil
}
