package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// maxPageBody caps how much of a page response is read.
const maxPageBody = 32 << 20

type HTTPSourceConfig struct {
	BaseURL          string
	ContributionPath string
	FDCPath          string
	Timeout          time.Duration
}

// HTTPSource reads pages from the case-management REST API.
type HTTPSource struct {
	baseURL    string
	paths      map[models.Category]string
	httpClient *http.Client
}

func NewHTTPSource(cfg HTTPSourceConfig) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		paths: map[models.Category]string{
			models.CategoryContribution: cfg.ContributionPath,
			models.CategoryFDC:          cfg.FDCPath,
		},
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type sourceRecord struct {
	RecordID int64          `json:"recordId"`
	MaatID   int64          `json:"maatId"`
	Status   string         `json:"status"`
	Payload  map[string]any `json:"payload"`
}

// FetchPage issues GET {base}{path}?status=&startingId=&pageSize=.
// Transport failures and 5xx answers are retryable; 4xx and malformed bodies
// are not.
func (s *HTTPSource) FetchPage(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error) {
	path, ok := s.paths[kind.Category]
	if !ok || path == "" {
		return nil, &FetchError{Category: kind.Category, Err: fmt.Errorf("no source path configured")}
	}

	q := url.Values{}
	q.Set("status", status)
	q.Set("startingId", strconv.FormatInt(afterID, 10))
	q.Set("pageSize", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &FetchError{Category: kind.Category, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Category: kind.Category, Retryable: ctx.Err() == nil, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return nil, &FetchError{Category: kind.Category, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 500 {
		return nil, &FetchError{Category: kind.Category, StatusCode: resp.StatusCode, Retryable: true, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Category: kind.Category, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body)))}
	}

	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var raw []sourceRecord
	if err := dec.Decode(&raw); err != nil {
		return nil, &FetchError{Category: kind.Category, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}

	records := make([]models.Record, 0, len(raw))
	for _, r := range raw {
		values, err := canonicalValues(r.Payload)
		if err != nil {
			return nil, &FetchError{Category: kind.Category, StatusCode: resp.StatusCode, Err: fmt.Errorf("record %d: %w", r.RecordID, err)}
		}
		records = append(records, models.Record{
			Category: kind.Category,
			ID:       r.RecordID,
			MaatID:   r.MaatID,
			Status:   r.Status,
			Values:   values,
		})
	}
	return records, nil
}

// canonicalValues flattens a payload into canonical text. Numbers keep their
// literal form; nulls are dropped as absent.
func canonicalValues(payload map[string]any) (map[string]string, error) {
	values := make(map[string]string, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			values[k] = t
		case json.Number:
			values[k] = t.String()
		case bool:
			values[k] = strconv.FormatBool(t)
		default:
			return nil, fmt.Errorf("field %s: unsupported value of type %T", k, v)
		}
	}
	return values, nil
}
