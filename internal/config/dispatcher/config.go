package dispatcher_config

import (
	"time"

	"github.com/notifyd/notifyd/internal/obs"
	pginfra "github.com/notifyd/notifyd/internal/repository/postgres"
	"github.com/notifyd/notifyd/internal/sender"
	"github.com/notifyd/notifyd/internal/services/dispatcher"
)

type Worker struct {
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
}

type KafkaIn struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type KafkaOut struct {
	Enable  bool     `mapstructure:"enable"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	DB      pginfra.Config           `mapstructure:"db"`
	Worker  Worker                   `mapstructure:"worker"`
	Retry   dispatcher.RetryConfig   `mapstructure:"retry"`
	SMTP    sender.SMTPConfig        `mapstructure:"smtp"`
	SMS     sender.GatewayConfig     `mapstructure:"sms"`
	Push    sender.GatewayConfig     `mapstructure:"push"`
	Webhook sender.WebhookHTTPConfig `mapstructure:"webhook"`
	In      KafkaIn                  `mapstructure:"kafka_in"`
	Out     KafkaOut                 `mapstructure:"kafka_out"`
	Otel    obs.OTELConfig           `mapstructure:"otel"`
	Log     obs.LogConfig            `mapstructure:"log"`
	Server  Server                   `mapstructure:"server"`
}
