package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/crimeapps/drc-integration/common/signing"
	"github.com/crimeapps/drc-integration/reconcile/internal/envelope"
)

type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	Index         string
}

// OpenSearchArchive indexes one document per envelope, using the file name
// as document id.
type OpenSearchArchive struct {
	client *opensearch.Client
	index  string
	signer *signing.Signer
	logger *slog.Logger
}

func NewOpenSearchArchive(cfg OpenSearchConfig, signer *signing.Signer, logger *slog.Logger) (*OpenSearchArchive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return &OpenSearchArchive{client: client, index: cfg.Index, signer: signer, logger: logger}, nil
}

var indexMappings = map[string]any{
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
		"codec":              "best_compression",
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"file_name":      map[string]any{"type": "keyword"},
			"category":       map[string]any{"type": "keyword"},
			"file_id":        map[string]any{"type": "long"},
			"generated_at":   map[string]any{"type": "date"},
			"archived_at":    map[string]any{"type": "date"},
			"record_count":   map[string]any{"type": "integer"},
			"format_version": map[string]any{"type": "keyword"},
			"record_ids":     map[string]any{"type": "long"},
			"content":        map[string]any{"type": "text", "index": false},
			"signature":      map[string]any{"type": "keyword"},
		},
	},
}

// EnsureIndex creates the archive index when it does not exist.
func (a *OpenSearchArchive) EnsureIndex(ctx context.Context) error {
	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{a.index}}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("check index %s: %w", a.index, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(indexMappings)
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndicesCreateRequest{Index: a.index, Body: bytes.NewReader(body)}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("create index %s: %w", a.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index %s: %s - %s", a.index, res.Status(), string(msg))
	}
	a.logger.InfoContext(ctx, "created envelope archive index", slog.String("index", a.index))
	return nil
}

func (a *OpenSearchArchive) Store(ctx context.Context, env *envelope.Envelope) error {
	doc := NewDocument(env, a.signer, time.Now())
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal archive document: %w", err)
	}

	res, err := opensearchapi.IndexRequest{
		Index:      a.index,
		DocumentID: doc.FileName,
		Body:       bytes.NewReader(body),
	}.Do(ctx, a.client)
	if err != nil {
		return fmt.Errorf("index envelope %s: %w", doc.FileName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index envelope %s: %s - %s", doc.FileName, res.Status(), string(msg))
	}
	return nil
}

func (a *OpenSearchArchive) Get(ctx context.Context, fileName string) (*Document, error) {
	res, err := opensearchapi.GetRequest{Index: a.index, DocumentID: fileName}.Do(ctx, a.client)
	if err != nil {
		return nil, fmt.Errorf("get envelope %s: %w", fileName, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get envelope %s: %s - %s", fileName, res.Status(), string(msg))
	}

	var hit struct {
		Found  bool     `json:"found"`
		Source Document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", fileName, err)
	}
	if !hit.Found {
		return nil, ErrNotFound
	}
	if err := checkSignature(&hit.Source, a.signer); err != nil {
		a.logger.ErrorContext(ctx, "archived envelope failed verification", slog.String("file_name", fileName))
		return nil, err
	}
	return &hit.Source, nil
}

// Ping checks the cluster is reachable.
func (a *OpenSearchArchive) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, a.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("opensearch ping: %s", res.Status())
	}
	return nil
}
