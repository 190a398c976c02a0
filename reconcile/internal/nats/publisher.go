package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crimeapps/drc-integration/common/messaging"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// RunCompletedEvent announces the end of a run.
type RunCompletedEvent struct {
	Report     *models.RunReport `json:"report"`
	Succeeded  bool              `json:"succeeded"`
	Dispatched int               `json:"dispatched"`
	Error      string            `json:"error,omitempty"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// Publisher publishes run notifications.
type Publisher struct {
	client messaging.Publisher
}

func NewPublisher(client messaging.Publisher) *Publisher {
	return &Publisher{client: client}
}

// PublishRunCompleted publishes report, and runErr when the run failed.
func (p *Publisher) PublishRunCompleted(ctx context.Context, report *models.RunReport, runErr error) error {
	event := RunCompletedEvent{
		Report:     report,
		Succeeded:  runErr == nil && report.Succeeded(),
		Dispatched: report.Dispatched(),
		EmittedAt:  time.Now().UTC(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	return p.publish(ctx, messaging.SubjectRunsCompleted, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.client.Publish(ctx, subject, bytes)
}
