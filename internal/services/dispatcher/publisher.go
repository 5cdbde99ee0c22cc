package dispatcher

import (
	"context"

	"github.com/notifyd/notifyd/internal/obs/retry"
	kafkax "github.com/notifyd/notifyd/internal/repository/kafka"
)

// RetryingPublisher wraps a StatusPublisher with the in-process
// publish policy. Distinct from the durable queue retry: a lost status
// event is only a degraded stream, never lost delivery state.
type RetryingPublisher struct {
	inner StatusPublisher
	pol   retry.Policy
}

func NewRetryingPublisher(inner StatusPublisher, pol retry.Policy) *RetryingPublisher {
	return &RetryingPublisher{inner: inner, pol: pol}
}

func (p *RetryingPublisher) PublishDeliveryStatus(ctx context.Context, s kafkax.DeliveryStatus) error {
	return retry.Do(ctx, func() error {
		return p.inner.PublishDeliveryStatus(ctx, s)
	}, p.pol)
}
