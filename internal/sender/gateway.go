package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type GatewayConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// gatewayClient posts JSON to an external transport gateway. Both the
// SMS and push senders are thin wrappers over it; the actual carrier
// integration lives behind the gateway.
type gatewayClient struct {
	url    string
	apiKey string
	httpc  *http.Client
	log    *zap.Logger
}

func newGatewayClient(cfg GatewayConfig, component string, log *zap.Logger) *gatewayClient {
	if log == nil {
		log = zap.L()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &gatewayClient{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		httpc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With(zap.String("component", component)),
	}
}

func (g *gatewayClient) post(ctx context.Context, body any) (Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpc.Do(req)
	if err != nil {
		return Result{}, delivery.Transient(0, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Code: resp.StatusCode},
			delivery.Transient(resp.StatusCode, fmt.Errorf("gateway returned %s", resp.Status))
	}
	return Result{Code: resp.StatusCode}, nil
}

// e164ish is deliberately loose: leading +, 7-15 digits.
var e164ish = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// SMSSender delivers through the configured SMS gateway.
type SMSSender struct {
	gw *gatewayClient
}

func NewSMSSender(cfg GatewayConfig, log *zap.Logger) *SMSSender {
	return &SMSSender{gw: newGatewayClient(cfg, "sender.sms", log)}
}

var _ Sender = (*SMSSender)(nil)

func (s *SMSSender) Send(ctx context.Context, n *notification.Notification) (Result, error) {
	if !e164ish.MatchString(n.Recipient) {
		return Result{}, delivery.Permanent("malformed phone number", nil)
	}
	res, err := s.gw.post(ctx, map[string]string{
		"to":      n.Recipient,
		"message": n.Content,
	})
	if err != nil {
		s.gw.log.Warn("sms send failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		return res, err
	}
	s.gw.log.Info("sms sent", zap.Int64("notification_id", n.ID))
	return res, nil
}

// PushSender delivers through the configured push gateway.
type PushSender struct {
	gw *gatewayClient
}

func NewPushSender(cfg GatewayConfig, log *zap.Logger) *PushSender {
	return &PushSender{gw: newGatewayClient(cfg, "sender.push", log)}
}

var _ Sender = (*PushSender)(nil)

func (s *PushSender) Send(ctx context.Context, n *notification.Notification) (Result, error) {
	if n.Recipient == "" {
		return Result{}, delivery.Permanent("empty device token", nil)
	}
	res, err := s.gw.post(ctx, map[string]string{
		"token": n.Recipient,
		"title": n.Subject,
		"body":  n.Content,
	})
	if err != nil {
		s.gw.log.Warn("push send failed", zap.Int64("notification_id", n.ID), zap.Error(err))
		return res, err
	}
	s.gw.log.Info("push sent", zap.Int64("notification_id", n.ID))
	return res, nil
}
