// Package nats connects the reconciliation service to the message bus:
// acknowledgements arrive on drc.acks.<category> and run reports leave on
// drc.runs.completed.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/common/messaging"
	"github.com/crimeapps/drc-integration/reconcile/internal/ack"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// AckProcessor records one acknowledgement.
type AckProcessor interface {
	Process(ctx context.Context, category models.Category, raw []byte, transport string) (*ack.CorrelatedAck, error)
}

// AckSubscriber consumes acknowledgements as a member of the shared queue
// group, so each message is recorded by one replica only.
type AckSubscriber struct {
	client    messaging.Subscriber
	processor AckProcessor
	logger    *slog.Logger
	subs      []messaging.Subscription
}

func NewAckSubscriber(client messaging.Subscriber, processor AckProcessor, logger *slog.Logger) *AckSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &AckSubscriber{client: client, processor: processor, logger: logger}
}

// Start subscribes to acknowledgements for every category.
func (s *AckSubscriber) Start() error {
	sub, err := s.client.QueueSubscribe(messaging.SubjectAcksAll, messaging.QueueAckWorkers, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to acknowledgements: %w", err)
	}
	s.subs = append(s.subs, sub)
	s.logger.Info("acknowledgement subscriber started", logging.Subject(messaging.SubjectAcksAll))
	return nil
}

// Stop unsubscribes from all subjects.
func (s *AckSubscriber) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", logging.Subject(sub.Subject()), logging.Error(err))
		}
	}
	s.subs = nil
	s.logger.Info("acknowledgement subscriber stopped")
}

func (s *AckSubscriber) handle(ctx context.Context, msg *messaging.Message) error {
	token := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
	category, err := models.ParseCategory(token)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping acknowledgement for unknown category",
			logging.Subject(msg.Subject), logging.Error(err))
		return err
	}

	if _, err := s.processor.Process(ctx, category, msg.Data, ack.TransportNATS); err != nil {
		s.logger.ErrorContext(ctx, "failed to record acknowledgement",
			logging.Subject(msg.Subject), logging.Error(err))
		return err
	}
	return nil
}
