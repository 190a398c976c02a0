package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType is the kind of pipeline step an AuditEvent records.
type EventType string

const (
	EventFetched      EventType = "FETCHED"
	EventSent         EventType = "SENT"
	EventAcknowledged EventType = "ACKNOWLEDGED"
)

var (
	ErrMissingEventType = errors.New("event type is required")
	ErrUnknownEventType = errors.New("unknown event type")
)

// ParseEventType rejects an empty value rather than defaulting it.
func ParseEventType(s string) (EventType, error) {
	if s == "" {
		return "", ErrMissingEventType
	}
	e := EventType(s)
	switch e {
	case EventFetched, EventSent, EventAcknowledged:
		return e, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// AuditEvent is one append-only row of the audit trail. At most one of
// ContributionID and FdcID is set, and which one is decided by RecordType.
type AuditEvent struct {
	ID             int64     `json:"id"`
	BatchID        *int64    `json:"batch_id,omitempty"`
	TraceID        *int64    `json:"trace_id,omitempty"`
	MaatID         *int64    `json:"maat_id,omitempty"`
	ContributionID *int64    `json:"concor_contribution_id,omitempty"`
	FdcID          *int64    `json:"fdc_id,omitempty"`
	RecordType     Category  `json:"record_type"`
	EventType      EventType `json:"event_type"`
	HTTPStatus     *int      `json:"http_status,omitempty"`
	Payload        string    `json:"payload,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RecordID returns whichever record reference is set.
func (e *AuditEvent) RecordID() (int64, bool) {
	switch {
	case e.ContributionID != nil:
		return *e.ContributionID, true
	case e.FdcID != nil:
		return *e.FdcID, true
	}
	return 0, false
}

// AckErrorEvent is one row of the submission-error trail, kept apart from
// AuditEvent so it can be retained on its own schedule.
type AckErrorEvent struct {
	ID             int64     `json:"id"`
	MaatID         *int64    `json:"maat_id,omitempty"`
	ContributionID *int64    `json:"concor_contribution_id,omitempty"`
	FdcID          *int64    `json:"fdc_id,omitempty"`
	RecordType     Category  `json:"record_type"`
	Title          string    `json:"title"`
	Detail         string    `json:"detail,omitempty"`
	Status         int       `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func (e *AckErrorEvent) RecordID() (int64, bool) {
	switch {
	case e.ContributionID != nil:
		return *e.ContributionID, true
	case e.FdcID != nil:
		return *e.FdcID, true
	}
	return 0, false
}

// RecordColumns maps a record id to the category's column. A zero id
// leaves both columns NULL.
func RecordColumns(c Category, id int64) (contributionID, fdcID *int64) {
	if id == 0 {
		return nil, nil
	}
	switch c {
	case CategoryContribution:
		return Int64Ptr(id), nil
	case CategoryFDC:
		return nil, Int64Ptr(id)
	}
	return nil, nil
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
