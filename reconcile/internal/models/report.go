package models

import "time"

// FailedRecord is a record that did not reach an accepted or conflict outcome.
type FailedRecord struct {
	RecordID   int64  `json:"record_id"`
	MaatID     int64  `json:"maat_id"`
	Reason     string `json:"reason"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// RunReport summarises one reconciliation run. A run is not persisted; this
// report and the audit rows sharing BatchID are its only trace.
type RunReport struct {
	BatchID        int64          `json:"batch_id"`
	Category       Category       `json:"category"`
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

// Dispatched is the number of records that reached a terminal SENT outcome.
func (r *RunReport) Dispatched() int {
	return r.Accepted + r.Conflict + r.Rejected + r.Unavailable
}

// Succeeded reports whether every extracted record was delivered or was
// already known to the remote party.
func (r *RunReport) Succeeded() bool {
	return !r.Aborted && r.Rejected == 0 && r.Unavailable == 0 && r.EnvelopeErrors == 0
}

// BatchSummary reconstructs a run from its audit trail.
type BatchSummary struct {
	BatchID  int64             `json:"batch_id"`
	Events   []*AuditEvent     `json:"events"`
	ByType   map[EventType]int `json:"by_type"`
	Statuses map[int]int       `json:"statuses,omitempty"`
	Records  []int64           `json:"records"`
}
