package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/common/messaging"
	natsclient "github.com/crimeapps/drc-integration/common/messaging/nats"
	"github.com/crimeapps/drc-integration/reconcile/internal/metrics"
)

// StreamPublisher is the slice of the JetStream client the queue needs.
type StreamPublisher interface {
	CreateOrUpdateStream(ctx context.Context, cfg natsclient.StreamConfig) (jetstream.Stream, error)
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamQueue writes dead letters to the DRC_DLQ stream, shared by every
// replica.
type JetStreamQueue struct {
	js      StreamPublisher
	stream  jetstream.Stream
	logger  *slog.Logger
	written atomic.Uint64
}

func NewJetStreamQueue(ctx context.Context, js StreamPublisher, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, natsclient.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger.Info("dead-letter stream ready", slog.String("stream", natsclient.DLQStream.Name))
	return &JetStreamQueue{js: js, stream: stream, logger: logger}, nil
}

// Write publishes f to drc.dlq.<reason> and waits for the stream ack.
func (q *JetStreamQueue) Write(ctx context.Context, f *FailedRecord) error {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	if _, err := q.js.PublishSync(ctx, messaging.DLQSubject(f.Reason), data); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish dead letter",
			logging.RecordID(f.Record.ID),
			slog.String("reason", f.Reason),
			logging.Error(err))
		return fmt.Errorf("publish dead letter: %w", err)
	}

	q.written.Add(1)
	metrics.DLQWrites.WithLabelValues(f.Reason).Inc()
	q.logger.DebugContext(ctx, "dead-lettered record",
		logging.Category(string(f.Category)),
		logging.RecordID(f.Record.ID),
		slog.String("reason", f.Reason))
	return nil
}

// Stats reports local and stream-wide counters.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	if q.stream == nil {
		return stats
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}

// List reads up to limit dead letters from the start of the stream.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQAll},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dead letters: %w", err)
	}

	var out []FailedRecord
	for msg := range batch.Messages() {
		var f FailedRecord
		if err := json.Unmarshal(msg.Data(), &f); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable dead letter", logging.Error(err))
			continue
		}
		out = append(out, f)
	}
	if err := batch.Error(); err != nil {
		q.logger.WarnContext(ctx, "dead-letter fetch ended early", logging.Error(err))
	}
	return out, nil
}

// Purge empties the stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "purged dead-letter stream")
	return nil
}
