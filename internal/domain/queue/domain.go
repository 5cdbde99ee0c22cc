package queue

import (
	"context"
	"time"
)

type Kind string

const (
	KindNotification Kind = "notification"
	KindWebhook      Kind = "webhook"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobDone       JobStatus = "done"
	JobDead       JobStatus = "dead"
	JobCanceled   JobStatus = "canceled"
)

// Job is one unit of dispatch work tracked through the queue. The
// queue exclusively owns its lifecycle state; workers touch a claimed
// job only while holding its lease token.
type Job struct {
	ID             string
	Kind           Kind
	NotificationID int64
	WebhookID      int64
	EventType      string
	Category       string
	Payload        []byte
	Priority       int
	Status         JobStatus
	Attempt        int
	NotBefore      time.Time
	LeaseToken     string
	LeaseUntil     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Repository interface {
	// Enqueue persists the job durably before returning. NotBefore in
	// the past (or zero) means immediately due.
	Enqueue(ctx context.Context, j *Job) error

	// ClaimBatch atomically claims up to n due jobs not held by any
	// other worker and stamps each with a fresh lease. A claimed job
	// whose lease expires becomes reclaimable. Within identical
	// not-before time higher priority goes first, ties by creation
	// order.
	ClaimBatch(ctx context.Context, n int, lease time.Duration) ([]*Job, error)

	// Ack finishes a claimed job. The lease token must match the
	// current claim or the call fails.
	Ack(ctx context.Context, id, leaseToken string) error

	// Reschedule releases the claim and re-queues the job for a later
	// run with a bumped attempt counter.
	Reschedule(ctx context.Context, id, leaseToken string, notBefore time.Time, attempt int) error

	// MarkDead terminally parks a claimed job for manual intervention.
	MarkDead(ctx context.Context, id, leaseToken string) error

	// Cancel drops a job that has not been claimed yet. Claimed jobs
	// run to completion or lease expiry.
	Cancel(ctx context.Context, id string) error

	GetByID(ctx context.Context, id string) (*Job, error)
}
