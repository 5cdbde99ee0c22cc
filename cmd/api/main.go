package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/notifyd/notifyd/internal/config/api"
	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/obs"
	"github.com/notifyd/notifyd/internal/prefs"
	pg "github.com/notifyd/notifyd/internal/repository/postgres"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sender"
	"github.com/notifyd/notifyd/internal/services/api"
	"go.uber.org/zap"
)

func wire(cfg *config.Config, db *pg.DB, l *zap.Logger) *api.Server {
	notifs := pg.NewNotificationRepo(db)
	hooks := pg.NewWebhookRepo(db)
	jobs := pg.NewQueueRepo(db)
	attempts := pg.NewAttemptRepo(db)
	prefsRepo := pg.NewPreferencesRepo(db)
	transactor := pg.NewTransactor(db, l)

	validator := safeurl.NewValidator(net.DefaultResolver)
	webhookSender := sender.NewHTTPWebhookSender(cfg.Webhook, validator, l)
	filter := prefs.NewFilter(prefsRepo, l)

	svc := dispatch.NewService(
		notifs, hooks, jobs, attempts, prefsRepo,
		filter, validator, webhookSender, transactor, l,
	)
	return api.NewServer(svc, l)
}

func main() {
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "../config/api.yaml"
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

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      wire(cfg, db, l).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("api listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
