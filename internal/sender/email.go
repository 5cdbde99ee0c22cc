package sender

import (
	"context"
	"crypto/tls"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/domain/notification"
	"go.uber.org/zap"
)

type SMTPConfig struct {
	Addr       string        `mapstructure:"addr"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	From       string        `mapstructure:"from"`
	SubjPrefix string        `mapstructure:"subject_prefix"`
}

// EmailSender delivers over SMTP.
type EmailSender struct {
	addr       string
	auth       smtp.Auth
	useTLS     bool
	timeout    time.Duration
	from       string
	subjPrefix string

	log *zap.Logger
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	var auth smtp.Auth
	if cfg.User != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, smtpHost(cfg.Addr))
	}
	return &EmailSender{
		addr:       cfg.Addr,
		auth:       auth,
		useTLS:     cfg.UseTLS,
		timeout:    cfg.Timeout,
		from:       cfg.From,
		subjPrefix: cfg.SubjPrefix,
		log:        zap.L().With(zap.String("component", "sender.email")),
	}
}

func (s *EmailSender) WithLogger(l *zap.Logger) *EmailSender {
	if l == nil {
		return s
	}
	cp := *s
	cp.log = l.With(zap.String("component", "sender.email"))
	return &cp
}

var _ Sender = (*EmailSender)(nil)

func (s *EmailSender) Send(ctx context.Context, n *notification.Notification) (Result, error) {
	if _, err := mail.ParseAddress(n.Recipient); err != nil {
		return Result{}, delivery.Permanent("malformed email recipient", err)
	}

	subj := strings.TrimSpace(s.subjPrefix + " " + n.Subject)
	msg := []byte(
		"From: " + s.from + "\r\n" +
			"To: " + n.Recipient + "\r\n" +
			"Subject: " + subj + "\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" + n.Content + "\r\n")

	start := time.Now()
	log := s.log.With(zap.Int64("notification_id", n.ID))

	if err := s.deliver(ctx, n.Recipient, msg); err != nil {
		log.Warn("smtp send failed", zap.Error(err))
		return Result{}, delivery.Transient(0, err)
	}
	log.Info("email sent", zap.Duration("elapsed", time.Since(start)))
	return Result{}, nil
}

func (s *EmailSender) deliver(ctx context.Context, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: s.timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	if !s.useTLS {
		return smtp.SendMail(s.addr, s.auth, s.from, []string{to}, msg)
	}

	conn, err := tls.DialWithDialer(&dialer, "tcp", s.addr, &tls.Config{ServerName: smtpHost(s.addr)})
	if err != nil {
		return err
	}
	c, err := smtp.NewClient(conn, smtpHost(s.addr))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if s.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(s.auth); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(s.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func smtpHost(addr string) string {
	if i := strings.Index(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}
