package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/webhook"
	"github.com/notifyd/notifyd/internal/safeurl"
	"github.com/notifyd/notifyd/internal/sign"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type WebhookHTTPConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// HTTPWebhookSender posts signed JSON payloads to registered
// destinations. The destination is re-validated before every call so a
// concurrently edited config never reaches an internal address.
type HTTPWebhookSender struct {
	validator *safeurl.Validator
	httpc     *http.Client
	cfg       WebhookHTTPConfig
	log       *zap.Logger
}

func NewHTTPWebhookSender(cfg WebhookHTTPConfig, validator *safeurl.Validator, log *zap.Logger) *HTTPWebhookSender {
	if log == nil {
		log = zap.L()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	return &HTTPWebhookSender{
		validator: validator,
		httpc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				// Redirects could bounce the signed request to an
				// unvalidated host.
				return http.ErrUseLastResponse
			},
		},
		cfg: cfg,
		log: log.With(zap.String("component", "sender.webhook")),
	}
}

var _ WebhookSender = (*HTTPWebhookSender)(nil)

// retryableStatus treats 5xx plus the two throttling codes as worth
// another attempt. Other 4xx responses will not change on retry.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func (s *HTTPWebhookSender) Send(ctx context.Context, cfg *webhook.Config, payload []byte) (Result, error) {
	if err := s.validator.Validate(ctx, cfg.URL); err != nil {
		return Result{}, delivery.Permanent("destination blocked", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, delivery.Permanent("building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sign.Header, sign.Payload(payload, cfg.Secret))
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := s.httpc.Do(req)
	if err != nil {
		s.log.Warn("webhook post failed", zap.Int64("webhook_id", cfg.ID), zap.Error(err))
		return Result{}, delivery.Transient(0, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.log.Warn("webhook rejected",
			zap.Int64("webhook_id", cfg.ID),
			zap.Int("status", resp.StatusCode),
		)
		cause := fmt.Errorf("endpoint returned %s", resp.Status)
		if retryableStatus(resp.StatusCode) {
			return Result{Code: resp.StatusCode}, delivery.Transient(resp.StatusCode, cause)
		}
		return Result{Code: resp.StatusCode}, delivery.Permanent("endpoint rejected delivery", cause)
	}

	s.log.Info("webhook delivered",
		zap.Int64("webhook_id", cfg.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Code: resp.StatusCode}, nil
}
