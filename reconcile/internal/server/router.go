// Package server provides HTTP server setup for the reconciliation service.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimeapps/drc-integration/common/middleware"
	"github.com/crimeapps/drc-integration/common/tokens"
	"github.com/crimeapps/drc-integration/reconcile/internal/handlers"
	authmw "github.com/crimeapps/drc-integration/reconcile/internal/middleware"
)

// NewRouter registers the reconciliation API. Acknowledgements need any
// valid bearer token; runs and the audit trail need an operator token. A nil
// validator leaves the API unauthenticated.
func NewRouter(h *handlers.Handler, validator authmw.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	operator := func(fn http.HandlerFunc) http.Handler {
		return authmw.RequireScope(validator, tokens.ScopeOperator, fn)
	}

	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.ReadyCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/v1/process-update/{category}",
		authmw.RequireBearer(validator, http.HandlerFunc(h.ProcessUpdate)))

	mux.Handle("POST /api/v1/runs/{category}", operator(h.TriggerRun))

	mux.Handle("DELETE /api/v1/audit", operator(h.PurgeAudit))
	mux.Handle("DELETE /api/v1/audit/errors", operator(h.PurgeErrors))
	mux.Handle("GET /api/v1/audit/batches/{batchId}", operator(h.GetBatch))
	mux.Handle("GET /api/v1/audit/records/{category}/{recordId}", operator(h.GetRecordHistory))

	mux.Handle("GET /api/v1/envelopes/{name}", operator(h.GetEnvelope))

	mux.Handle("GET /api/v1/dlq", operator(h.ListDeadLetters))
	mux.Handle("DELETE /api/v1/dlq", operator(h.PurgeDeadLetters))

	return middleware.RequestID(mux)
}
