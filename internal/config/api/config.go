package api_config

import (
	"time"

	"github.com/notifyd/notifyd/internal/obs"
	pginfra "github.com/notifyd/notifyd/internal/repository/postgres"
	"github.com/notifyd/notifyd/internal/sender"
)

type Server struct {
	Addr         string        `mapstructure:"addr"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type Config struct {
	DB      pginfra.Config           `mapstructure:"db"`
	Webhook sender.WebhookHTTPConfig `mapstructure:"webhook"`
	Otel    obs.OTELConfig           `mapstructure:"otel"`
	Log     obs.LogConfig            `mapstructure:"log"`
	Server  Server                   `mapstructure:"server"`
}
