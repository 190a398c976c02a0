// Package ack correlates DRC acknowledgements with the records they report
// on and writes them to the audit trail.
package ack

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// SuccessTitle is the report title the DRC uses for a successful outcome.
const SuccessTitle = "Success"

// MalformedTitle is recorded for acknowledgements whose report cannot be read.
const MalformedTitle = "Malformed acknowledgement"

// CorrelatedAck is an acknowledgement resolved against its record. An
// unmatched ack has Matched false and RecordID 0; it is still audited.
type CorrelatedAck struct {
	Category  models.Category `json:"category"`
	RecordID  int64           `json:"record_id"`
	MaatID    int64           `json:"maat_id,omitempty"`
	BatchID   int64           `json:"batch_id,omitempty"`
	TraceID   int64           `json:"trace_id,omitempty"`
	Matched   bool            `json:"matched"`
	Success   bool            `json:"success"`
	Malformed bool            `json:"malformed,omitempty"`
	Title     string          `json:"title"`
	Detail    string          `json:"detail,omitempty"`
	Status    int             `json:"status"`
}

// Result is the metrics label for the ack.
func (a *CorrelatedAck) Result() string {
	switch {
	case a.Malformed:
		return "malformed"
	case a.Success:
		return "success"
	}
	return "error"
}

type ackMessage struct {
	Data map[string]json.RawMessage `json:"data"`
	Meta map[string]json.RawMessage `json:"meta"`
}

type ackReport struct {
	Title  string          `json:"title"`
	Detail string          `json:"detail"`
	Status json.RawMessage `json:"status"`
}

// Correlator resolves acknowledgements for one deployment. It holds no
// state and is safe for concurrent use.
type Correlator struct{}

// Correlate never fails. Unreadable input produces a malformed, unmatched
// ack so that it is still logged.
func (Correlator) Correlate(kind *models.RecordKind, raw []byte) CorrelatedAck {
	ack := CorrelatedAck{Category: kind.Category}

	var msg ackMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return malformed(ack, "body is not a JSON object: "+err.Error())
	}

	ack.RecordID = firstID(msg.Data[kind.IDField], msg.Meta[kind.IDField], msg.Meta["recordId"])
	ack.Matched = ack.RecordID > 0
	ack.MaatID = firstID(msg.Data["maatId"], msg.Meta["maatId"])
	ack.BatchID = firstID(msg.Meta["batchId"])
	ack.TraceID = firstID(msg.Meta["traceId"])

	rawReport, ok := msg.Data["report"]
	if !ok || isNull(rawReport) {
		return malformed(ack, "report is missing")
	}
	var report ackReport
	if err := json.Unmarshal(rawReport, &report); err != nil {
		return malformed(ack, "report is unreadable: "+err.Error())
	}
	if strings.TrimSpace(report.Title) == "" {
		return malformed(ack, "report title is missing")
	}

	ack.Title = report.Title
	ack.Detail = report.Detail
	if report.Title == SuccessTitle {
		ack.Success = true
		ack.Status = http.StatusOK
		return ack
	}

	ack.Status = http.StatusBadRequest
	if status := parseID(report.Status); status > 0 && status < 1000 {
		ack.Status = int(status)
	}
	return ack
}

func malformed(ack CorrelatedAck, detail string) CorrelatedAck {
	ack.Malformed = true
	ack.Success = false
	ack.Title = MalformedTitle
	ack.Detail = detail
	ack.Status = http.StatusBadRequest
	return ack
}

// firstID returns the first positive identifier among the candidates.
func firstID(candidates ...json.RawMessage) int64 {
	for _, c := range candidates {
		if id := parseID(c); id > 0 {
			return id
		}
	}
	return 0
}

// parseID accepts a JSON number or a numeric string.
func parseID(raw json.RawMessage) int64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
