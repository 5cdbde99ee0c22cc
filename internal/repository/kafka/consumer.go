package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, key, value []byte) error

// JSONHandler decodes the message value into M before handing off.
func JSONHandler[M any](handle func(ctx context.Context, key []byte, msg *M) error) Handler {
	return func(ctx context.Context, key, value []byte) error {
		var msg M
		if err := json.Unmarshal(value, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		return handle(ctx, key, &msg)
	}
}

var (
	mConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_total",
		Help: "Messages fetched and handed to the ingest handler.",
	}, []string{"topic"})
	mHandlerErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_handler_errors_total",
		Help: "Handler failures; the message stays uncommitted.",
	}, []string{"topic"})
)

const (
	fetchBackoffMin = 200 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
)

type Consumer struct {
	reader *kafka.Reader
	log    *zap.Logger
	cfg    *ConsumerConfig
}

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	FromBeginning bool
	Logger        *zap.Logger
}

func NewConsumer(cfg *ConsumerConfig) *Consumer {
	if cfg.Logger == nil {
		cfg.Logger = zap.L()
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:               cfg.Brokers,
		GroupID:               cfg.GroupID,
		Topic:                 cfg.Topic,
		StartOffset:           start,
		WatchPartitionChanges: true,

		MinBytes:          1e3,
		MaxBytes:          10e6,
		SessionTimeout:    10 * time.Second,
		RebalanceTimeout:  15 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})

	log := cfg.Logger.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)

	return &Consumer{reader: r, log: log, cfg: cfg}
}

func (c *Consumer) WithLogger(l *zap.Logger) *Consumer {
	if l == nil {
		return c
	}
	cp := *c
	cp.log = l.With(
		zap.String("component", "kafka.consumer"),
		zap.String("topic", c.cfg.Topic),
		zap.String("group", c.cfg.GroupID),
	)
	return &cp
}

// Consume runs the fetch/handle/commit loop until ctx is canceled. A
// handler error skips the commit so the message is redelivered.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	c.log.Info("consumer started")

	backoff := fetchBackoffMin
	for {
		select {
		case <-ctx.Done():
			c.log.Info("consumer stopped (ctx canceled)")
			return ctx.Err()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped (ctx canceled)")
				return ctx.Err()
			}
			backoff = c.fetchBackoff(err, backoff)
			continue
		}
		backoff = fetchBackoffMin

		mConsumed.WithLabelValues(c.cfg.Topic).Inc()
		if err := h(ctx, msg.Key, msg.Value); err != nil {
			mHandlerErr.WithLabelValues(c.cfg.Topic).Inc()
			c.log.Error("handler error",
				zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				c.log.Info("commit interrupted by context cancel")
				return ctx.Err()
			}
			c.log.Warn("commit failed; will retry later", zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error { return c.reader.Close() }

// fetchBackoff sleeps out the current backoff and returns the next,
// doubled up to fetchBackoffMax.
func (c *Consumer) fetchBackoff(cause error, backoff time.Duration) time.Duration {
	if errors.Is(cause, io.EOF) {
		c.log.Debug("fetch EOF; retry", zap.Duration("backoff", backoff))
	} else {
		c.log.Warn("fetch failed; retry", zap.Error(cause), zap.Duration("backoff", backoff))
	}
	time.Sleep(backoff)
	if backoff *= 2; backoff > fetchBackoffMax {
		backoff = fetchBackoffMax
	}
	return backoff
}
