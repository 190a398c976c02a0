package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/common/tokens"
)

func TestRequireBearer(t *testing.T) {
	m := tokens.NewManager("test-secret-that-is-long-enough-for-hs256")
	valid, err := m.Issue("drc-partner", "acks", time.Minute)
	require.NoError(t, err)

	var gotSubject string
	handler := RequireBearer(m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = GetSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + valid, want: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + valid, want: http.StatusNoContent},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "basic", header: "Basic dXNlcjpwYXNz", want: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/api/v1/process-update/fdc", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, httputil.ProblemContentType, rec.Header().Get("Content-Type"))
				assert.Empty(t, gotSubject)
			} else {
				assert.Equal(t, "drc-partner", gotSubject)
			}
		})
	}
}

func TestRequireBearer_Disabled(t *testing.T) {
	handler := RequireBearer(nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireScope(t *testing.T) {
	m := tokens.NewManager("test-secret-that-is-long-enough-for-hs256")
	operator, err := m.Issue("ops", tokens.ScopeOperator, time.Minute)
	require.NoError(t, err)
	acks, err := m.Issue("drc-partner", tokens.ScopeAcks, time.Minute)
	require.NoError(t, err)

	handler := RequireScope(m, tokens.ScopeOperator, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "operator", header: "Bearer " + operator, want: http.StatusNoContent},
		{name: "ack scope", header: "Bearer " + acks, want: http.StatusForbidden},
		{name: "missing", header: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/audit", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
