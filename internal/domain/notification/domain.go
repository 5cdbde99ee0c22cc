package notification

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return c, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Rank orders priorities for queue scheduling; higher runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

type Status string

const (
	StatusPending Status = "pending"
	StatusQueued  Status = "queued"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
)

// Terminal reports whether no further automatic transition happens.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusDead }

// CanTransition encodes the forward-only lifecycle:
// pending -> queued -> (sent | failed -> queued | dead).
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusQueued
	case StatusQueued:
		return to == StatusSent || to == StatusFailed || to == StatusDead
	case StatusFailed:
		return to == StatusQueued || to == StatusDead
	default:
		return false
	}
}

type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Priority  Priority  `json:"priority"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	SentAt    time.Time `json:"sent_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

type Repo interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id int64) (*Notification, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Notification, error)
	// UpdateStatus applies a forward transition and records the new
	// attempt counter, last error text and sent timestamp.
	UpdateStatus(ctx context.Context, id int64, to Status, attempts int, lastErr string, sentAt time.Time) error
}
