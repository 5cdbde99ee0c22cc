package kafka

import (
	"context"
	"time"
)

// BusinessEvent is the inbound shape business collaborators publish:
// one event, fanned out to every subscribed webhook.
type BusinessEvent struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	At        time.Time      `json:"at"`
}

// DeliveryStatus is the outbound record emitted when a job reaches a
// terminal state. Identifiers and outcome only, no content.
type DeliveryStatus struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	NotificationID int64     `json:"notification_id,omitempty"`
	WebhookID      int64     `json:"webhook_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Attempts       int       `json:"attempts"`
	At             time.Time `json:"at"`
}

type DeliveryEventsKafka struct {
	p *Producer
}

func NewDeliveryEventsKafka(p *Producer) *DeliveryEventsKafka { return &DeliveryEventsKafka{p: p} }

func (e *DeliveryEventsKafka) PublishDeliveryStatus(ctx context.Context, s DeliveryStatus) error {
	if s.At.IsZero() {
		s.At = time.Now().UTC()
	}
	return e.p.PublishJSON(ctx, []byte(s.JobID), s)
}
