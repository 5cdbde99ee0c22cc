// Package dispatch implements the inbound operations business
// collaborators call: submitting notifications, registering webhooks,
// triggering events and reading delivery state back out. Delivery
// itself happens asynchronously in the dispatcher service.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/notifyd/notifyd/internal/domain/webhook"
	"github.com/notifyd/notifyd/internal/prefs"
	"github.com/notifyd/notifyd/internal/repository/postgres"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sender"
	"go.uber.org/zap"
)

const (
	defaultWebhookMaxAttempts = 5
	defaultWebhookTimeout     = 10 * time.Second
)

type Service struct {
	notifs    notification.Repo
	hooks     webhook.Repo
	jobs      queue.Repository
	attempts  delivery.Recorder
	prefsRepo preferences.Repo
	filter    *prefs.Filter
	validator *safeurl.Validator
	tester    sender.WebhookSender
	tx        postgres.Transactor
	log       *zap.Logger
}

func NewService(
	notifs notification.Repo,
	hooks webhook.Repo,
	jobs queue.Repository,
	attempts delivery.Recorder,
	prefsRepo preferences.Repo,
	filter *prefs.Filter,
	validator *safeurl.Validator,
	tester sender.WebhookSender,
	tx postgres.Transactor,
	log *zap.Logger,
) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{
		notifs:    notifs,
		hooks:     hooks,
		jobs:      jobs,
		attempts:  attempts,
		prefsRepo: prefsRepo,
		filter:    filter,
		validator: validator,
		tester:    tester,
		tx:        tx,
		log:       log.With(zap.String("component", "dispatch.service")),
	}
}

type SubmitRequest struct {
	UserID    int64
	Channel   string
	Recipient string
	Subject   string
	Content   string
	Priority  string
	Category  string
}

var phoneish = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// SubmitNotification validates the request, persists the notification
// and its queue job in one transaction, and returns with the job
// durably enqueued. Only validation failures surface synchronously;
// delivery outcome is visible via the history query interface.
func (s *Service) SubmitNotification(ctx context.Context, req SubmitRequest) (*notification.Notification, error) {
	ch, err := notification.ParseChannel(req.Channel)
	if err != nil {
		return nil, delivery.Invalid("channel", err.Error())
	}
	prio, err := notification.ParsePriority(req.Priority)
	if err != nil {
		return nil, delivery.Invalid("priority", err.Error())
	}
	if req.UserID <= 0 {
		return nil, delivery.Invalid("user_id", "must be positive")
	}
	if req.Recipient == "" {
		return nil, delivery.Invalid("recipient", "must not be empty")
	}
	switch ch {
	case notification.ChannelEmail:
		if _, err := mail.ParseAddress(req.Recipient); err != nil {
			return nil, delivery.Invalid("recipient", "not a valid email address")
		}
	case notification.ChannelSMS:
		if !phoneish.MatchString(req.Recipient) {
			return nil, delivery.Invalid("recipient", "not a valid phone number")
		}
	}
	if req.Content == "" {
		return nil, delivery.Invalid("content", "must not be empty")
	}
	category := req.Category
	if category != "" {
		if _, ok := preferences.ParseCategory(category); !ok {
			return nil, delivery.Invalid("category", fmt.Sprintf("unknown category %q", category))
		}
	}

	n := &notification.Notification{
		UserID:    req.UserID,
		Channel:   ch,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Content:   req.Content,
		Priority:  prio,
	}

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.notifs.Create(txCtx, n); err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		job := &queue.Job{
			ID:             uuid.NewString(),
			Kind:           queue.KindNotification,
			NotificationID: n.ID,
			Category:       category,
			Priority:       prio.Rank(),
		}
		if err := s.jobs.Enqueue(txCtx, job); err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		if err := s.notifs.UpdateStatus(txCtx, n.ID, notification.StatusQueued, 0, "", time.Time{}); err != nil {
			return fmt.Errorf("mark queued: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.Status = notification.StatusQueued
	s.log.Info("notification submitted",
		zap.Int64("notification_id", n.ID),
		zap.Int64("user_id", n.UserID),
		zap.String("channel", string(n.Channel)),
		zap.String("priority", string(n.Priority)),
	)
	return n, nil
}

type RegisterWebhookRequest struct {
	Name        string
	URL         string
	EventTypes  []string
	Secret      string
	Active      bool
	MaxAttempts int
	Timeout     time.Duration
}

// RegisterWebhook validates and stores a destination. The URL must
// resolve to a publicly routable host at registration time; the same
// check runs again before every send.
func (s *Service) RegisterWebhook(ctx context.Context, req RegisterWebhookRequest) (*webhook.Config, error) {
	if req.Name == "" {
		return nil, delivery.Invalid("name", "must not be empty")
	}
	if req.Secret == "" {
		return nil, delivery.Invalid("secret", "must not be empty")
	}
	if len(req.EventTypes) == 0 {
		return nil, delivery.Invalid("event_types", "must not be empty")
	}
	types := make([]webhook.EventType, 0, len(req.EventTypes))
	for _, t := range req.EventTypes {
		if !webhook.KnownEventType(t) {
			return nil, delivery.Invalid("event_types", fmt.Sprintf("unknown event type %q", t))
		}
		types = append(types, webhook.EventType(t))
	}
	if err := s.validator.Validate(ctx, req.URL); err != nil {
		return nil, delivery.Invalid("url", err.Error())
	}

	cfg := &webhook.Config{
		Name:        req.Name,
		URL:         req.URL,
		EventTypes:  types,
		Secret:      req.Secret,
		Active:      req.Active,
		MaxAttempts: req.MaxAttempts,
		Timeout:     req.Timeout,
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultWebhookMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if err := s.hooks.Create(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store webhook: %w", err)
	}
	s.log.Info("webhook registered", zap.Int64("webhook_id", cfg.ID), zap.String("name", cfg.Name))
	return cfg, nil
}

// TriggerEvent fans out one business event to every active webhook
// subscribed to it, producing one queue job per destination. Returns
// the number of jobs enqueued.
func (s *Service) TriggerEvent(ctx context.Context, eventType string, payload map[string]any) (int, error) {
	if !webhook.KnownEventType(eventType) {
		return 0, delivery.Invalid("event_type", fmt.Sprintf("unknown event type %q", eventType))
	}

	body, err := json.Marshal(struct {
		EventType string         `json:"event_type"`
		Payload   map[string]any `json:"payload"`
		At        time.Time      `json:"at"`
	}{eventType, payload, time.Now().UTC()})
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}

	hooks, err := s.hooks.ListActiveByEvent(ctx, webhook.EventType(eventType))
	if err != nil {
		return 0, fmt.Errorf("list webhooks: %w", err)
	}

	enqueued := 0
	for _, h := range hooks {
		job := &queue.Job{
			ID:        uuid.NewString(),
			Kind:      queue.KindWebhook,
			WebhookID: h.ID,
			EventType: eventType,
			Payload:   body,
			Priority:  notification.PriorityNormal.Rank(),
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueue webhook job: %w", err)
		}
		enqueued++
	}
	s.log.Info("event fanned out",
		zap.String("event_type", eventType),
		zap.Int("webhooks", enqueued),
	)
	return enqueued, nil
}

// TestWebhook synchronously posts a sample payload through the same
// validation and signing path real deliveries use.
func (s *Service) TestWebhook(ctx context.Context, url, secret string, payload []byte) (int, error) {
	if len(payload) == 0 {
		payload = []byte(`{"event_type":"test","payload":{}}`)
	}
	cfg := &webhook.Config{URL: url, Secret: secret, Timeout: defaultWebhookTimeout}
	res, err := s.tester.Send(ctx, cfg, payload)
	return res.Code, err
}

// CancelJob drops a still-pending job. Once claimed, a job runs to
// completion or lease expiry.
func (s *Service) CancelJob(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return delivery.Invalid("job_id", "not a valid job id")
	}
	return s.jobs.Cancel(ctx, id)
}

func (s *Service) GetNotification(ctx context.Context, id int64) (*notification.Notification, error) {
	return s.notifs.GetByID(ctx, id)
}

func (s *Service) ListNotifications(ctx context.Context, userID int64, limit int) ([]*notification.Notification, error) {
	return s.notifs.ListByUser(ctx, userID, limit)
}

func (s *Service) ListWebhooks(ctx context.Context, limit int) ([]*webhook.Config, error) {
	return s.hooks.List(ctx, limit)
}

func (s *Service) QueryHistory(ctx context.Context, f delivery.Filter) ([]*delivery.Attempt, error) {
	return s.attempts.Query(ctx, f)
}

func (s *Service) GetPreferences(ctx context.Context, userID int64) (*preferences.Preferences, error) {
	return s.filter.GetOrDefaults(ctx, userID)
}

func (s *Service) UpdatePreferences(ctx context.Context, p *preferences.Preferences) error {
	if p.UserID <= 0 {
		return delivery.Invalid("user_id", "must be positive")
	}
	return s.prefsRepo.Upsert(ctx, p)
}
