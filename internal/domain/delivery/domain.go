package delivery

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailure    Outcome = "failure"
	OutcomeSuppressed Outcome = "suppressed"
)

// Attempt is an append-only audit record of one send attempt.
// Rows are never mutated after insert.
type Attempt struct {
	ID             int64     `json:"id"`
	JobID          string    `json:"job_id"`
	NotificationID int64     `json:"notification_id,omitempty"`
	WebhookID      int64     `json:"webhook_id,omitempty"`
	UserID         int64     `json:"user_id,omitempty"`
	Attempt        int       `json:"attempt"`
	Outcome        Outcome   `json:"outcome"`
	ResponseCode   int       `json:"response_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// Filter narrows history queries. Zero values are ignored.
type Filter struct {
	NotificationID int64
	WebhookID      int64
	UserID         int64
	Since          time.Time
	Until          time.Time
	Limit          int
}

type Recorder interface {
	Record(ctx context.Context, a *Attempt) error
	Query(ctx context.Context, f Filter) ([]*Attempt, error)
}
