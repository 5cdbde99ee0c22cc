package dispatch

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/domain/preferences"
	"github.com/notifyd/notifyd/internal/domain/queue"
	"github.com/notifyd/notifyd/internal/domain/webhook"
	"github.com/notifyd/notifyd/internal/prefs"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sender"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memNotifs struct {
	nextID int64
	rows   map[int64]*notification.Notification
}

func (r *memNotifs) Create(_ context.Context, n *notification.Notification) error {
	r.nextID++
	n.ID = r.nextID
	n.Status = notification.StatusPending
	n.CreatedAt = time.Now().UTC()
	cp := *n
	r.rows[n.ID] = &cp
	return nil
}
func (r *memNotifs) GetByID(_ context.Context, id int64) (*notification.Notification, error) {
	return r.rows[id], nil
}
func (r *memNotifs) ListByUser(context.Context, int64, int) ([]*notification.Notification, error) {
	return nil, nil
}
func (r *memNotifs) UpdateStatus(_ context.Context, id int64, to notification.Status, _ int, _ string, _ time.Time) error {
	r.rows[id].Status = to
	return nil
}

type memHooks struct {
	nextID int64
	rows   []*webhook.Config
}

func (r *memHooks) Create(_ context.Context, c *webhook.Config) error {
	r.nextID++
	c.ID = r.nextID
	r.rows = append(r.rows, c)
	return nil
}
func (r *memHooks) GetByID(context.Context, int64) (*webhook.Config, error) { return nil, nil }
func (r *memHooks) ListActiveByEvent(_ context.Context, ev webhook.EventType) ([]*webhook.Config, error) {
	var out []*webhook.Config
	for _, c := range r.rows {
		if c.Active && c.Subscribed(ev) {
			out = append(out, c)
		}
	}
	return out, nil
}
func (r *memHooks) List(context.Context, int) ([]*webhook.Config, error) { return r.rows, nil }
func (r *memHooks) Update(context.Context, *webhook.Config) error        { return nil }

type memQueue struct{ jobs []*queue.Job }

func (q *memQueue) Enqueue(_ context.Context, j *queue.Job) error {
	q.jobs = append(q.jobs, j)
	return nil
}
func (q *memQueue) ClaimBatch(context.Context, int, time.Duration) ([]*queue.Job, error) {
	return nil, nil
}
func (q *memQueue) Ack(context.Context, string, string) error { return nil }
func (q *memQueue) Reschedule(context.Context, string, string, time.Time, int) error {
	return nil
}
func (q *memQueue) MarkDead(context.Context, string, string) error { return nil }
func (q *memQueue) Cancel(context.Context, string) error           { return nil }
func (q *memQueue) GetByID(context.Context, string) (*queue.Job, error) {
	return nil, nil
}

type memRecorder struct{}

func (memRecorder) Record(context.Context, *delivery.Attempt) error { return nil }
func (memRecorder) Query(context.Context, delivery.Filter) ([]*delivery.Attempt, error) {
	return nil, nil
}

type memPrefs struct{}

func (memPrefs) Get(context.Context, int64) (*preferences.Preferences, error) { return nil, nil }
func (memPrefs) Upsert(context.Context, *preferences.Preferences) error       { return nil }

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type staticResolver struct{ ips []net.IPAddr }

func (r staticResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return r.ips, nil
}

type noopWebhookSender struct{}

func (noopWebhookSender) Send(context.Context, *webhook.Config, []byte) (sender.Result, error) {
	return sender.Result{Code: 200}, nil
}

func public() staticResolver {
	return staticResolver{ips: []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}}
}

func newService(t *testing.T, r safeurl.Resolver) (*Service, *memQueue, *memHooks, *memNotifs) {
	t.Helper()
	notifs := &memNotifs{rows: map[int64]*notification.Notification{}}
	hooks := &memHooks{}
	jobs := &memQueue{}
	svc := NewService(
		notifs, hooks, jobs, memRecorder{}, memPrefs{},
		prefs.NewFilter(memPrefs{}, zap.NewNop()),
		safeurl.NewValidator(r),
		noopWebhookSender{},
		passthroughTx{}, zap.NewNop(),
	)
	return svc, jobs, hooks, notifs
}

func TestSubmitNotification_EnqueuesAndMarksQueued(t *testing.T) {
	svc, jobs, _, notifs := newService(t, public())

	n, err := svc.SubmitNotification(context.Background(), SubmitRequest{
		UserID:    42,
		Channel:   "email",
		Recipient: "user@example.com",
		Subject:   "Your order",
		Content:   "shipped",
		Priority:  "high",
		Category:  "order-shipped",
	})
	require.NoError(t, err)
	require.Equal(t, notification.StatusQueued, n.Status)
	require.Equal(t, notification.StatusQueued, notifs.rows[n.ID].Status)

	require.Len(t, jobs.jobs, 1)
	j := jobs.jobs[0]
	require.Equal(t, queue.KindNotification, j.Kind)
	require.Equal(t, n.ID, j.NotificationID)
	require.Equal(t, "order-shipped", j.Category)
	require.Equal(t, notification.PriorityHigh.Rank(), j.Priority)
	require.NotEmpty(t, j.ID)
}

func TestSubmitNotification_Validation(t *testing.T) {
	svc, jobs, _, _ := newService(t, public())

	cases := []SubmitRequest{
		{UserID: 1, Channel: "fax", Recipient: "user@example.com", Content: "x"},
		{UserID: 1, Channel: "email", Recipient: "not-an-email", Content: "x"},
		{UserID: 1, Channel: "sms", Recipient: "abc", Content: "x"},
		{UserID: 1, Channel: "email", Recipient: "user@example.com", Content: ""},
		{UserID: 0, Channel: "email", Recipient: "user@example.com", Content: "x"},
		{UserID: 1, Channel: "email", Recipient: "user@example.com", Content: "x", Category: "nope"},
		{UserID: 1, Channel: "email", Recipient: "user@example.com", Content: "x", Priority: "extreme"},
	}
	for _, req := range cases {
		_, err := svc.SubmitNotification(context.Background(), req)
		require.Error(t, err)
		require.True(t, delivery.IsValidation(err), "want validation error, got %v", err)
	}
	require.Empty(t, jobs.jobs)
}

func TestRegisterWebhook_DefaultsApplied(t *testing.T) {
	svc, _, _, _ := newService(t, public())

	cfg, err := svc.RegisterWebhook(context.Background(), RegisterWebhookRequest{
		Name:       "shop",
		URL:        "https://hooks.example.com/in",
		EventTypes: []string{"order.created", "order.shipped"},
		Secret:     "s3cret",
		Active:     true,
	})
	require.NoError(t, err)
	require.Equal(t, defaultWebhookMaxAttempts, cfg.MaxAttempts)
	require.Equal(t, defaultWebhookTimeout, cfg.Timeout)
	require.NotZero(t, cfg.ID)
}

func TestRegisterWebhook_RejectsPrivateDestination(t *testing.T) {
	svc, _, hooks, _ := newService(t, staticResolver{ips: []net.IPAddr{{IP: net.ParseIP("10.0.0.5")}}})

	_, err := svc.RegisterWebhook(context.Background(), RegisterWebhookRequest{
		Name:       "evil",
		URL:        "https://internal.example.com/steal",
		EventTypes: []string{"order.created"},
		Secret:     "s",
		Active:     true,
	})
	require.Error(t, err)
	require.True(t, delivery.IsValidation(err))
	require.Empty(t, hooks.rows)
}

func TestRegisterWebhook_RejectsUnknownEventType(t *testing.T) {
	svc, _, _, _ := newService(t, public())

	_, err := svc.RegisterWebhook(context.Background(), RegisterWebhookRequest{
		Name:       "shop",
		URL:        "https://hooks.example.com/in",
		EventTypes: []string{"order.exploded"},
		Secret:     "s",
	})
	require.True(t, delivery.IsValidation(err))
}

func TestTriggerEvent_FansOutToSubscribers(t *testing.T) {
	svc, jobs, _, _ := newService(t, public())

	for _, name := range []string{"a", "b"} {
		_, err := svc.RegisterWebhook(context.Background(), RegisterWebhookRequest{
			Name:       name,
			URL:        "https://hooks.example.com/" + name,
			EventTypes: []string{"order.created"},
			Secret:     "s",
			Active:     true,
		})
		require.NoError(t, err)
	}
	_, err := svc.RegisterWebhook(context.Background(), RegisterWebhookRequest{
		Name:       "other",
		URL:        "https://hooks.example.com/other",
		EventTypes: []string{"payment.refunded"},
		Secret:     "s",
		Active:     true,
	})
	require.NoError(t, err)

	n, err := svc.TriggerEvent(context.Background(), "order.created", map[string]any{"order_id": 9})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, jobs.jobs, 2)

	var envelope struct {
		EventType string         `json:"event_type"`
		Payload   map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(jobs.jobs[0].Payload, &envelope))
	require.Equal(t, "order.created", envelope.EventType)
	require.EqualValues(t, 9, envelope.Payload["order_id"])
}

func TestTriggerEvent_UnknownTypeRejected(t *testing.T) {
	svc, jobs, _, _ := newService(t, public())

	_, err := svc.TriggerEvent(context.Background(), "order.vanished", nil)
	require.True(t, delivery.IsValidation(err))
	require.Empty(t, jobs.jobs)
}

func TestCancelJob_RejectsMalformedID(t *testing.T) {
	svc, _, _, _ := newService(t, public())

	err := svc.CancelJob(context.Background(), "not-a-uuid")
	require.True(t, delivery.IsValidation(err))
}
