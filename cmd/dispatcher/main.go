package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/notifyd/notifyd/internal/config/dispatcher"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"github.com/notifyd/notifyd/internal/obs"
	"github.com/notifyd/notifyd/internal/obs/retry"
	"github.com/notifyd/notifyd/internal/prefs"
	"github.com/notifyd/notifyd/internal/repository/kafka"
	pg "github.com/notifyd/notifyd/internal/repository/postgres"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sender"
	"github.com/notifyd/notifyd/internal/services/dispatcher"
	"go.uber.org/zap"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func wire(cfg *config.Config, db *pg.DB, events dispatcher.StatusPublisher, l *zap.Logger) (*dispatcher.Runner, *dispatch.Service) {
	jobs := pg.NewQueueRepo(db)
	notifs := pg.NewNotificationRepo(db)
	hooks := pg.NewWebhookRepo(db)
	attempts := pg.NewAttemptRepo(db)
	prefsRepo := pg.NewPreferencesRepo(db)
	transactor := pg.NewTransactor(db, l)

	filter := prefs.NewFilter(prefsRepo, l)
	validator := safeurl.NewValidator(net.DefaultResolver)
	webhookSender := sender.NewHTTPWebhookSender(cfg.Webhook, validator, l)

	senders := sender.Registry{
		notification.ChannelEmail: sender.NewEmailSender(cfg.SMTP),
		notification.ChannelSMS:   sender.NewSMSSender(cfg.SMS, l),
		notification.ChannelPush:  sender.NewPushSender(cfg.Push, l),
	}

	scheduler := dispatcher.NewScheduler(cfg.Retry, jobs, l)
	handler := dispatcher.NewHandler(
		jobs, notifs, hooks, attempts,
		filter, senders, webhookSender,
		scheduler, events, systemClock{},
		cfg.Worker.SendTimeout, l,
	)
	runner := dispatcher.NewRunner(
		l, jobs, handler,
		cfg.Worker.Workers, cfg.Worker.BatchSize,
		cfg.Worker.PollInterval, cfg.Worker.LeaseTTL,
	)

	svc := dispatch.NewService(
		notifs, hooks, jobs, attempts, prefsRepo,
		filter, validator, webhookSender, transactor, l,
	)
	return runner, svc
}

func main() {
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "../config/dispatcher.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	otelCloser, err := obs.SetupOTel(root, &cfg.Otel)
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	var events dispatcher.StatusPublisher
	if cfg.Out.Enable {
		prod := kafka.NewProducer(cfg.Out.Brokers, cfg.Out.Topic).WithLogger(l)
		defer func() { _ = prod.Close() }()
		events = dispatcher.NewRetryingPublisher(
			kafka.NewDeliveryEventsKafka(prod), retry.DefaultPublishPolicy(l))
	}

	runner, svc := wire(cfg, db, events, l)
	runner.Start(root)

	errCh := make(chan error, 1)
	if cfg.In.Enable {
		cons := kafka.BootstrapConsumer(root, &kafka.ConsumerConfig{
			Brokers: cfg.In.Brokers,
			Topic:   cfg.In.Topic,
			GroupID: cfg.In.GroupID,
			Logger:  l,
		}, l)
		defer func() { _ = cons.Close() }()
		ctrl := dispatcher.NewEventController(l, cons, svc)
		go func() { errCh <- ctrl.Run(root) }()
	}

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("event controller error", zap.Error(err))
		}
	}

	runner.Wait()

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
