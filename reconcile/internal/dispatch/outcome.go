// Package dispatch delivers records to the DRC one at a time and classifies
// each answer into an Outcome.
package dispatch

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// Outcome is the classified result of one delivery attempt.
type Outcome int

const (
	// OutcomeAccepted means the DRC took the submission.
	OutcomeAccepted Outcome = iota + 1
	// OutcomeConflict means the DRC already holds the record. Not an error.
	OutcomeConflict
	// OutcomeRejected is a terminal 4xx answer.
	OutcomeRejected
	// OutcomeUnavailable is a 5xx answer or a transport failure. Retryable.
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Classify maps a DRC answer to an Outcome. A problem whose type equals
// duplicateType on any 4xx answer is a conflict. Status 0 stands for a
// transport failure.
func Classify(status int, problem *httputil.Problem, duplicateType string) Outcome {
	switch {
	case status == 0 || status >= 500:
		return OutcomeUnavailable
	case status >= 200 && status < 300:
		return OutcomeAccepted
	case status >= 400 && problem != nil && duplicateType != "" && problem.Type == duplicateType:
		return OutcomeConflict
	}
	return OutcomeRejected
}

// Request is the delivery body: {"data": {...}, "meta": {...}}.
type Request struct {
	Data map[string]any    `json:"data"`
	Meta map[string]string `json:"meta"`
}

// Meta keys set on every request.
const (
	MetaRecordID = "recordId"
	MetaMaatID   = "maatId"
	MetaBatchID  = "batchId"
	MetaTraceID  = "traceId"
	MetaCategory = "category"
)

// BuildRequest wraps rec as {IDField: id, ObjectField: {...}}. Decimal and
// integer fields are written as JSON numbers with their exact text.
func BuildRequest(kind *models.RecordKind, batchID, traceID int64, rec models.Record) *Request {
	obj := map[string]any{
		"maatId": rec.MaatID,
	}
	if rec.Status != "" {
		obj["status"] = rec.Status
	}
	for _, f := range kind.Fields {
		v, ok := rec.Value(f.Name)
		if !ok {
			continue
		}
		switch f.Type {
		case models.FieldDecimal, models.FieldInteger:
			obj[f.Name] = json.Number(v)
		default:
			obj[f.Name] = v
		}
	}

	return &Request{
		Data: map[string]any{
			kind.IDField:     rec.ID,
			kind.ObjectField: obj,
		},
		Meta: map[string]string{
			MetaRecordID: strconv.FormatInt(rec.ID, 10),
			MetaMaatID:   strconv.FormatInt(rec.MaatID, 10),
			MetaBatchID:  strconv.FormatInt(batchID, 10),
			MetaTraceID:  strconv.FormatInt(traceID, 10),
			MetaCategory: string(kind.Category),
		},
	}
}

// RecordID reads the record identifier back from the meta map.
func (r *Request) RecordID() (int64, bool) {
	id, err := strconv.ParseInt(r.Meta[MetaRecordID], 10, 64)
	return id, err == nil && id > 0
}

// Response is a DRC answer. Problem is set when the body was a problem
// document.
type Response struct {
	StatusCode int
	Problem    *httputil.Problem
	Body       []byte
}

// Detail is the most specific explanation the response carries.
func (r *Response) Detail() string {
	if r == nil {
		return ""
	}
	if r.Problem != nil {
		return r.Problem.Summary()
	}
	if r.StatusCode >= 300 {
		if len(r.Body) > 0 && len(r.Body) <= 512 {
			return string(r.Body)
		}
		return http.StatusText(r.StatusCode)
	}
	return ""
}
