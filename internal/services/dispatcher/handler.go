// Package dispatcher runs the delivery side of the system: a worker
// pool claims due jobs from the durable queue, pushes each through the
// preference filter and the channel sender, records the attempt and
// hands failures to the retry scheduler.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/notifyd/notifyd/internal/domain/webhook"
	"github.com/notifyd/notifyd/internal/obs"
	kafkax "github.com/notifyd/notifyd/internal/repository/kafka"
	"github.com/notifyd/notifyd/internal/sender"
	"go.uber.org/zap"
)

// PreferenceFilter is the read-only gate consulted before every
// notification send.
type PreferenceFilter interface {
	IsAllowed(ctx context.Context, userID int64, ch notification.Channel, cat preferences.Category) bool
}

// StatusPublisher announces terminal delivery outcomes downstream.
type StatusPublisher interface {
	PublishDeliveryStatus(ctx context.Context, s kafkax.DeliveryStatus) error
}

type Clock interface{ Now() time.Time }

type Handler struct {
	jobs      queue.Repository
	notifs    notification.Repo
	hooks     webhook.Repo
	attempts  delivery.Recorder
	filter    PreferenceFilter
	senders   sender.Registry
	webhooks  sender.WebhookSender
	scheduler *Scheduler
	events    StatusPublisher
	clock     Clock

	sendTimeout time.Duration
	log         *zap.Logger
}

func NewHandler(
	jobs queue.Repository,
	notifs notification.Repo,
	hooks webhook.Repo,
	attempts delivery.Recorder,
	filter PreferenceFilter,
	senders sender.Registry,
	webhooks sender.WebhookSender,
	scheduler *Scheduler,
	events StatusPublisher,
	clock Clock,
	sendTimeout time.Duration,
	log *zap.Logger,
) *Handler {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.L()
	}
	return &Handler{
		jobs:        jobs,
		notifs:      notifs,
		hooks:       hooks,
		attempts:    attempts,
		filter:      filter,
		senders:     senders,
		webhooks:    webhooks,
		scheduler:   scheduler,
		events:      events,
		clock:       clock,
		sendTimeout: sendTimeout,
		log:         log.With(zap.String("component", "dispatcher.handler")),
	}
}

// HandleJob processes one claimed job end to end. Storage errors
// bubble up and leave the job claimed; its lease expiry returns it to
// the pool, so a crashed worker never strands work.
func (h *Handler) HandleJob(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindNotification:
		return h.handleNotification(ctx, job)
	case queue.KindWebhook:
		return h.handleWebhook(ctx, job)
	default:
		h.log.Error("unknown job kind, parking dead",
			zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
		return h.jobs.MarkDead(ctx, job.ID, job.LeaseToken)
	}
}

func (h *Handler) handleNotification(ctx context.Context, job *queue.Job) error {
	n, err := h.notifs.GetByID(ctx, job.NotificationID)
	if err != nil {
		return fmt.Errorf("load notification %d: %w", job.NotificationID, err)
	}
	if n.Status.Terminal() {
		// Re-claimed after a crash between send and ack. The attempt
		// record already exists, only the ack is missing.
		return h.jobs.Ack(ctx, job.ID, job.LeaseToken)
	}
	if n.Status == notification.StatusFailed {
		// Re-claimed after a crash between the failed mark and the
		// scheduling decision. Bring the row back to queued so the
		// outcome transition of this attempt is legal again.
		if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusQueued, n.Attempts, n.LastError, time.Time{}); err != nil {
			return fmt.Errorf("recover failed notification: %w", err)
		}
		n.Status = notification.StatusQueued
	}

	attemptNum := job.Attempt + 1

	// Category-less and unknown-category jobs count as transactional;
	// the channel-level opt-out still applies to them.
	cat, _ := preferences.ParseCategory(job.Category)
	if !h.filter.IsAllowed(ctx, n.UserID, n.Channel, cat) {
		return h.suppressNotification(ctx, job, n, attemptNum)
	}

	snd, ok := h.senders[n.Channel]
	if !ok {
		now := h.clock.Now()
		if err := h.recordAttempt(ctx, job, n, attemptNum, delivery.OutcomeFailure, 0,
			"no sender for channel "+string(n.Channel), now, now); err != nil {
			return err
		}
		return h.finishFailed(ctx, job, n, 0, attemptNum,
			delivery.Permanent("no sender for channel "+string(n.Channel), nil))
	}

	started := h.clock.Now()
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	res, sendErr := snd.Send(sendCtx, n)
	cancel()
	completed := h.clock.Now()

	if sendErr == nil {
		if err := h.recordAttempt(ctx, job, n, attemptNum, delivery.OutcomeSuccess, res.Code, "", started, completed); err != nil {
			return err
		}
		if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusSent, attemptNum, "", completed); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
		if err := h.jobs.Ack(ctx, job.ID, job.LeaseToken); err != nil {
			return err
		}
		h.publishStatus(ctx, job, string(delivery.OutcomeSuccess), attemptNum)
		obs.WithTrace(ctx, h.log).Info("notification sent",
			zap.Int64("notification_id", n.ID),
			zap.String("channel", string(n.Channel)),
			zap.Int("attempt", attemptNum),
		)
		return nil
	}

	if err := h.recordAttempt(ctx, job, n, attemptNum, delivery.OutcomeFailure, res.Code, sendErr.Error(), started, completed); err != nil {
		return err
	}
	return h.finishFailed(ctx, job, n, 0, attemptNum, sendErr)
}

func (h *Handler) suppressNotification(ctx context.Context, job *queue.Job, n *notification.Notification, attemptNum int) error {
	now := h.clock.Now()
	if err := h.recordAttempt(ctx, job, n, attemptNum, delivery.OutcomeSuppressed, 0, "", now, now); err != nil {
		return err
	}
	if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusSent, attemptNum, "", now); err != nil {
		return fmt.Errorf("mark suppressed: %w", err)
	}
	if err := h.jobs.Ack(ctx, job.ID, job.LeaseToken); err != nil {
		return err
	}
	h.publishStatus(ctx, job, string(delivery.OutcomeSuppressed), attemptNum)
	obs.WithTrace(ctx, h.log).Info("notification suppressed by preferences",
		zap.Int64("notification_id", n.ID),
		zap.Int64("user_id", n.UserID),
		zap.String("channel", string(n.Channel)),
		zap.String("category", job.Category),
	)
	return nil
}

// finishFailed applies the failure to both the notification row and
// the queue job. maxAttempts zero means the global ceiling.
func (h *Handler) finishFailed(ctx context.Context, job *queue.Job, n *notification.Notification, maxAttempts, attemptNum int, cause error) error {
	if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusFailed, attemptNum, cause.Error(), time.Time{}); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	dead, err := h.scheduler.HandleFailure(ctx, job, maxAttempts, attemptNum, cause)
	if err != nil {
		return err
	}
	if dead {
		if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusDead, attemptNum, cause.Error(), time.Time{}); err != nil {
			return fmt.Errorf("mark dead: %w", err)
		}
		h.publishStatus(ctx, job, string(delivery.OutcomeFailure), attemptNum)
		return nil
	}

	// Retried: failed -> queued, visible again once the backoff elapses.
	if err := h.notifs.UpdateStatus(ctx, n.ID, notification.StatusQueued, attemptNum, cause.Error(), time.Time{}); err != nil {
		return fmt.Errorf("re-queue notification: %w", err)
	}
	return nil
}

func (h *Handler) handleWebhook(ctx context.Context, job *queue.Job) error {
	cfg, err := h.hooks.GetByID(ctx, job.WebhookID)
	if err != nil {
		return fmt.Errorf("load webhook %d: %w", job.WebhookID, err)
	}

	attemptNum := job.Attempt + 1

	if !cfg.Active {
		now := h.clock.Now()
		if err := h.recordWebhookAttempt(ctx, job, cfg, attemptNum, delivery.OutcomeSuppressed, 0, "", now, now); err != nil {
			return err
		}
		if err := h.jobs.Ack(ctx, job.ID, job.LeaseToken); err != nil {
			return err
		}
		h.publishStatus(ctx, job, string(delivery.OutcomeSuppressed), attemptNum)
		obs.WithTrace(ctx, h.log).Info("webhook deactivated, delivery suppressed",
			zap.Int64("webhook_id", cfg.ID),
			zap.String("event_type", job.EventType),
		)
		return nil
	}

	started := h.clock.Now()
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	res, sendErr := h.webhooks.Send(sendCtx, cfg, job.Payload)
	cancel()
	completed := h.clock.Now()

	if sendErr == nil {
		if err := h.recordWebhookAttempt(ctx, job, cfg, attemptNum, delivery.OutcomeSuccess, res.Code, "", started, completed); err != nil {
			return err
		}
		if err := h.jobs.Ack(ctx, job.ID, job.LeaseToken); err != nil {
			return err
		}
		h.publishStatus(ctx, job, string(delivery.OutcomeSuccess), attemptNum)
		obs.WithTrace(ctx, h.log).Info("webhook delivered",
			zap.Int64("webhook_id", cfg.ID),
			zap.String("event_type", job.EventType),
			zap.Int("status", res.Code),
			zap.Int("attempt", attemptNum),
		)
		return nil
	}

	if err := h.recordWebhookAttempt(ctx, job, cfg, attemptNum, delivery.OutcomeFailure, res.Code, sendErr.Error(), started, completed); err != nil {
		return err
	}

	dead, err := h.scheduler.HandleFailure(ctx, job, cfg.MaxAttempts, attemptNum, sendErr)
	if err != nil {
		return err
	}
	if dead {
		h.publishStatus(ctx, job, string(delivery.OutcomeFailure), attemptNum)
	}
	return nil
}

// recordAttempt appends to the audit trail. A failed insert aborts
// the job: the claim lapses with the lease and the attempt reruns,
// so no send outcome ever goes unrecorded.
func (h *Handler) recordAttempt(ctx context.Context, job *queue.Job, n *notification.Notification, attemptNum int, outcome delivery.Outcome, code int, errText string, started, completed time.Time) error {
	a := &delivery.Attempt{
		JobID:          job.ID,
		NotificationID: n.ID,
		UserID:         n.UserID,
		Attempt:        attemptNum,
		Outcome:        outcome,
		ResponseCode:   code,
		Error:          errText,
		StartedAt:      started,
		CompletedAt:    completed,
	}
	if err := h.attempts.Record(ctx, a); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (h *Handler) recordWebhookAttempt(ctx context.Context, job *queue.Job, cfg *webhook.Config, attemptNum int, outcome delivery.Outcome, code int, errText string, started, completed time.Time) error {
	a := &delivery.Attempt{
		JobID:        job.ID,
		WebhookID:    cfg.ID,
		Attempt:      attemptNum,
		Outcome:      outcome,
		ResponseCode: code,
		Error:        errText,
		StartedAt:    started,
		CompletedAt:  completed,
	}
	if err := h.attempts.Record(ctx, a); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (h *Handler) publishStatus(ctx context.Context, job *queue.Job, outcome string, attempts int) {
	if h.events == nil {
		return
	}
	s := kafkax.DeliveryStatus{
		JobID:          job.ID,
		Kind:           string(job.Kind),
		NotificationID: job.NotificationID,
		WebhookID:      job.WebhookID,
		Outcome:        outcome,
		Attempts:       attempts,
		At:             h.clock.Now(),
	}
	if err := h.events.PublishDeliveryStatus(ctx, s); err != nil {
		obs.WithTrace(ctx, h.log).Warn("publish delivery status failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}
