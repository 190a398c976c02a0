package extractor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

func contribution(id int64, status string) models.Record {
	return models.Record{
		Category: models.CategoryContribution,
		ID:       id,
		MaatID:   id * 10,
		Status:   status,
		Values: map[string]string{
			"effectiveDate":       "2024-04-01",
			"monthlyContribution": "125.50",
			"assessmentDate":      "2024-03-15",
		},
	}
}

func newExtractor(src RecordSource, retries int) *Extractor {
	return New(src, Options{Retries: retries, Logger: logging.Discard().Logger})
}

func TestFetchAll_PagesUntilExhausted(t *testing.T) {
	src := NewMemorySource(
		contribution(1001, "ACTIVE"),
		contribution(1002, "ACTIVE"),
		contribution(1003, "ACTIVE"),
		contribution(1004, "ACTIVE"),
		contribution(1005, "ACTIVE"),
		contribution(2000, "REPLACED"),
	)
	kind := models.MustKind(models.CategoryContribution)

	got, err := newExtractor(src, 0).FetchAll(context.Background(), kind, 3)
	require.NoError(t, err)

	ids := make([]int64, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []int64{1001, 1002, 1003, 1004, 1005}, ids)

	calls := src.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, int64(0), calls[0].AfterID)
	assert.Equal(t, int64(1003), calls[1].AfterID)
	assert.Equal(t, int64(1005), calls[2].AfterID)
}

func TestFetchAll_EmptySource(t *testing.T) {
	src := NewMemorySource()
	got, err := newExtractor(src, 0).FetchAll(context.Background(), models.MustKind(models.CategoryFDC), 100)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, src.Calls(), 1)
}

func TestFetchAll_MultipleStatusesDeduplicated(t *testing.T) {
	src := NewMemorySource(
		contribution(5, "ACTIVE"),
		contribution(3, "PENDING"),
		contribution(9, "PENDING"),
		contribution(1, "ACTIVE"),
	)
	kind := models.MustKind(models.CategoryContribution).WithStatuses([]string{"ACTIVE", "PENDING"})

	got, err := newExtractor(src, 0).FetchAll(context.Background(), kind, 10)
	require.NoError(t, err)

	var ids []int64
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 3, 5, 9}, ids)
}

func TestFetchPage_RetriesWithSameCursor(t *testing.T) {
	src := NewMemorySource(contribution(7, "ACTIVE"))
	src.FailNext(&FetchError{Category: models.CategoryContribution, StatusCode: 503, Retryable: true, Err: errors.New("unavailable")})

	page, err := newExtractor(src, 2).FetchPage(context.Background(), models.MustKind(models.CategoryContribution), "ACTIVE", 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)

	calls := src.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
}

func TestFetchPage_NonRetryableFailsFast(t *testing.T) {
	src := NewMemorySource()
	src.FailNext(&FetchError{Category: models.CategoryContribution, StatusCode: 400, Err: errors.New("bad request")})

	_, err := newExtractor(src, 3).FetchPage(context.Background(), models.MustKind(models.CategoryContribution), "ACTIVE", 0, 10)
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Len(t, src.Calls(), 1)
}

func TestFetchPage_RetriesExhausted(t *testing.T) {
	src := NewMemorySource()
	fail := &FetchError{Category: models.CategoryContribution, Retryable: true, Err: errors.New("connection reset")}
	src.FailNext(fail, fail, fail)

	_, err := newExtractor(src, 2).FetchPage(context.Background(), models.MustKind(models.CategoryContribution), "ACTIVE", 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, fail)
	assert.Len(t, src.Calls(), 3)
}

type scriptedSource struct {
	page []models.Record
}

func (s scriptedSource) FetchPage(context.Context, *models.RecordKind, string, int64, int) ([]models.Record, error) {
	return s.page, nil
}

func TestFetchPage_ContractViolations(t *testing.T) {
	kind := models.MustKind(models.CategoryContribution)

	tests := []struct {
		name    string
		page    []models.Record
		afterID int64
		size    int
		want    error
	}{
		{
			name:    "id not after cursor",
			page:    []models.Record{contribution(5, "ACTIVE")},
			afterID: 5,
			size:    10,
			want:    ErrCursorNotAdvancing,
		},
		{
			name: "ids out of order",
			page: []models.Record{contribution(8, "ACTIVE"), contribution(6, "ACTIVE")},
			size: 10,
			want: ErrCursorNotAdvancing,
		},
		{
			name: "page too large",
			page: []models.Record{contribution(1, "ACTIVE"), contribution(2, "ACTIVE")},
			size: 1,
			want: ErrPageOverflow,
		},
		{
			name: "wrong status",
			page: []models.Record{contribution(1, "REPLACED")},
			size: 10,
			want: ErrStatusMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newExtractor(scriptedSource{page: tt.page}, 0).FetchPage(context.Background(), kind, "ACTIVE", tt.afterID, tt.size)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchAll_PageLimit(t *testing.T) {
	src := sourceFunc(func(_ context.Context, _ *models.RecordKind, status string, afterID int64, _ int) ([]models.Record, error) {
		return []models.Record{contribution(afterID+1, status)}, nil
	})
	e := New(src, Options{MaxPages: 4, Logger: logging.Discard().Logger})

	_, err := e.FetchAll(context.Background(), models.MustKind(models.CategoryContribution), 10)
	assert.ErrorIs(t, err, ErrTooManyPages)
}

func TestFetchAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExtractor(NewMemorySource(contribution(1, "ACTIVE")), 0).FetchAll(ctx, models.MustKind(models.CategoryContribution), 10)
	assert.ErrorIs(t, err, context.Canceled)
}

type sourceFunc func(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error)

func (f sourceFunc) FetchPage(ctx context.Context, kind *models.RecordKind, status string, afterID int64, pageSize int) ([]models.Record, error) {
	return f(ctx, kind, status, afterID, pageSize)
}

func TestHTTPSource_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fdcs", r.URL.Path)
		assert.Equal(t, "REQUESTED", r.URL.Query().Get("status"))
		assert.Equal(t, "41", r.URL.Query().Get("startingId"))
		assert.Equal(t, "2", r.URL.Query().Get("pageSize"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"recordId": 42, "maatId": 900, "status": "REQUESTED",
			 "payload": {"sentenceOrderDate": "2023-11-02", "dateCalculated": "2024-01-10",
			             "finalCost": 1234.50, "lgfsCost": null}}
		]`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL + "/", FDCPath: "/fdcs", Timeout: time.Second})
	page, err := src.FetchPage(context.Background(), models.MustKind(models.CategoryFDC), "REQUESTED", 41, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)

	rec := page[0]
	assert.Equal(t, models.CategoryFDC, rec.Category)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, int64(900), rec.MaatID)
	assert.Equal(t, "1234.50", rec.Values["finalCost"])
	assert.NotContains(t, rec.Values, "lgfsCost")
	assert.Nil(t, models.MustKind(models.CategoryFDC).Validate(rec))
}

func TestHTTPSource_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", retryable: true},
		{name: "client error", status: http.StatusBadRequest, body: "bad status", retryable: false},
		{name: "malformed body", status: http.StatusOK, body: `{"not":"an array"}`, retryable: false},
		{name: "unsupported value", status: http.StatusOK, body: `[{"recordId":1,"status":"ACTIVE","payload":{"x":{"y":1}}}]`, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			src := NewHTTPSource(HTTPSourceConfig{BaseURL: srv.URL, ContributionPath: "/contributions", Timeout: time.Second})
			_, err := src.FetchPage(context.Background(), models.MustKind(models.CategoryContribution), "ACTIVE", 0, 10)
			require.Error(t, err)

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.retryable, fe.Retryable)
		})
	}
}

func TestHTTPSource_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	src := NewHTTPSource(HTTPSourceConfig{BaseURL: url, ContributionPath: "/contributions", Timeout: time.Second})
	_, err := src.FetchPage(context.Background(), models.MustKind(models.CategoryContribution), "ACTIVE", 0, 10)
	assert.True(t, IsRetryable(err))
}
