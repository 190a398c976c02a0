// Package archive retains every built envelope so a batch can be inspected
// or re-sent after the run that produced it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crimeapps/drc-integration/common/signing"
	"github.com/crimeapps/drc-integration/reconcile/internal/envelope"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

var (
	ErrNotFound = errors.New("envelope not found")
	// ErrSignatureMismatch means an archived document no longer matches the
	// signature taken when it was stored.
	ErrSignatureMismatch = errors.New("archived envelope failed signature verification")
)

// Document is the archived form of an envelope.
type Document struct {
	FileName      string          `json:"file_name"`
	Key           string          `json:"key"`
	Category      models.Category `json:"category"`
	FileID        int64           `json:"file_id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	RecordCount   int             `json:"record_count"`
	FormatVersion string          `json:"format_version"`
	RecordIDs     []int64         `json:"record_ids"`
	Content       string          `json:"content"`
	Signature     string          `json:"signature,omitempty"`
	ArchivedAt    time.Time       `json:"archived_at"`
}

// Archive stores envelopes keyed by file name. Storing the same file name
// twice replaces the earlier document. Archives holding a signer refuse to
// return documents whose signature no longer verifies.
type Archive interface {
	Store(ctx context.Context, env *envelope.Envelope) error
	Get(ctx context.Context, fileName string) (*Document, error)
}

// NewDocument builds the archived form of env, signed when signer is set.
func NewDocument(env *envelope.Envelope, signer *signing.Signer, now time.Time) *Document {
	ids := make([]int64, len(env.Records))
	for i, r := range env.Records {
		ids[i] = r.ID
	}
	doc := &Document{
		FileName:      env.Header.FileName,
		Key:           env.Key(),
		Category:      env.Category,
		FileID:        env.Header.FileID,
		GeneratedAt:   env.Header.GeneratedAt,
		RecordCount:   env.Header.RecordCount,
		FormatVersion: env.Header.FormatVersion,
		RecordIDs:     ids,
		Content:       string(env.Data),
		ArchivedAt:    now.UTC(),
	}
	if signer != nil {
		doc.Signature = signer.Sign(doc.FileName, doc.GeneratedAt, env.Data)
	}
	return doc
}

// checkSignature rejects doc when signer is set and the signature does not hold.
func checkSignature(doc *Document, signer *signing.Signer) error {
	if signer != nil && !doc.Verify(signer) {
		return fmt.Errorf("%w: %s", ErrSignatureMismatch, doc.FileName)
	}
	return nil
}

// Verify checks the document signature. Unsigned documents never verify.
func (d *Document) Verify(signer *signing.Signer) bool {
	if d.Signature == "" || signer == nil {
		return false
	}
	return signer.Verify(d.FileName, d.GeneratedAt, []byte(d.Content), d.Signature)
}

// MemoryArchive keeps documents in process memory.
type MemoryArchive struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	signer *signing.Signer
	// FailWith, when set, is returned by Store.
	FailWith error
}

func NewMemoryArchive(signer *signing.Signer) *MemoryArchive {
	return &MemoryArchive{docs: make(map[string]*Document), signer: signer}
}

func (a *MemoryArchive) Store(_ context.Context, env *envelope.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailWith != nil {
		return a.FailWith
	}
	a.docs[env.Header.FileName] = NewDocument(env, a.signer, time.Now())
	return nil
}

func (a *MemoryArchive) Get(_ context.Context, fileName string) (*Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.docs[fileName]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	if err := checkSignature(&cp, a.signer); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Len returns the number of stored documents.
func (a *MemoryArchive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.docs)
}
