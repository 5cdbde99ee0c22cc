// Package sender holds one adapter per delivery transport. Senders
// log identifiers and outcomes only, never recipient content.
package sender

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/webhook"
)

// Result carries the transport response code when there is one.
type Result struct {
	Code int
}

// Sender turns a notification into one transport-specific delivery
// attempt. Errors follow the delivery taxonomy: transient failures are
// retried by the scheduler, permanent ones kill the job.
type Sender interface {
	Send(ctx context.Context, n *notification.Notification) (Result, error)
}

// WebhookSender delivers a signed payload to a registered destination.
type WebhookSender interface {
	Send(ctx context.Context, cfg *webhook.Config, payload []byte) (Result, error)
}

// Registry resolves the sender for a channel.
type Registry map[notification.Channel]Sender
