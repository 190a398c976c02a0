package dispatch

import (
	"context"
	"net/http"
	"sync"

	"github.com/crimeapps/drc-integration/common/httputil"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// Scripted is a canned answer for MemoryTarget. A non-nil Err simulates a
// transport failure.
type Scripted struct {
	StatusCode int
	Problem    *httputil.Problem
	Err        error
}

type memoryKey struct {
	category models.Category
	recordID int64
}

// MemoryTarget is an in-memory DRC. It accepts each record once and answers
// later submissions of the same record with a duplicate problem.
type MemoryTarget struct {
	mu            sync.Mutex
	duplicateType string
	accepted      map[memoryKey]*Request
	rejections    map[memoryKey]*httputil.Problem
	script        []Scripted
	requests      []*Request
}

func NewMemoryTarget(duplicateType string) *MemoryTarget {
	return &MemoryTarget{
		duplicateType: duplicateType,
		accepted:      make(map[memoryKey]*Request),
		rejections:    make(map[memoryKey]*httputil.Problem),
	}
}

// Script queues answers returned, in order, before normal behaviour resumes.
func (t *MemoryTarget) Script(answers ...Scripted) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, answers...)
}

// Reject makes every submission of the record fail with p.
func (t *MemoryTarget) Reject(category models.Category, recordID int64, p *httputil.Problem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejections[memoryKey{category, recordID}] = p
}

// Preload marks records as already held by the DRC.
func (t *MemoryTarget) Preload(category models.Category, recordIDs ...int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range recordIDs {
		t.accepted[memoryKey{category, id}] = nil
	}
}

// Requests returns every request received, in order.
func (t *MemoryTarget) Requests() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// Holds reports whether the DRC holds the record.
func (t *MemoryTarget) Holds(category models.Category, recordID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.accepted[memoryKey{category, recordID}]
	return ok
}

func (t *MemoryTarget) Send(ctx context.Context, category models.Category, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests = append(t.requests, req)

	if len(t.script) > 0 {
		next := t.script[0]
		t.script = t.script[1:]
		if next.Err != nil {
			return nil, next.Err
		}
		return &Response{StatusCode: next.StatusCode, Problem: next.Problem}, nil
	}

	id, ok := req.RecordID()
	if !ok {
		return problemResponse(&httputil.Problem{Status: http.StatusBadRequest, Title: "Bad Request", Detail: "meta.recordId is required"}), nil
	}
	key := memoryKey{category, id}

	if p, ok := t.rejections[key]; ok {
		return problemResponse(p), nil
	}
	if _, dup := t.accepted[key]; dup {
		return problemResponse(&httputil.Problem{
			Type:   t.duplicateType,
			Title:  "Duplicate ID",
			Status: http.StatusConflict,
			Detail: "record already submitted",
		}), nil
	}

	t.accepted[key] = req
	return &Response{StatusCode: http.StatusOK}, nil
}

func problemResponse(p *httputil.Problem) *Response {
	cp := *p
	if cp.Status == 0 {
		cp.Status = http.StatusBadRequest
	}
	return &Response{StatusCode: cp.Status, Problem: &cp}
}
