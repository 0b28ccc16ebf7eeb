package config

import (
	"time"

	libconfig "github.com/md-rashed-zaman/eventoutbox/libs/config"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
)

type Config struct {
	ServiceName string `yaml:"SERVICE_NAME" env:"SERVICE_NAME" env-default:"user-service"`
	Port        string `yaml:"PORT" env:"PORT" env-default:"8081"`
	LogLevel    string `yaml:"LOG_LEVEL" env:"LOG_LEVEL" env-default:"info"`
	DatabaseURL string `yaml:"DATABASE_URL" env:"DATABASE_URL" env-required:"true"`
	JWTSecret   string `yaml:"JWT_SECRET" env:"JWT_SECRET"`

	InvitationTTL time.Duration `yaml:"INVITATION_TTL" env:"INVITATION_TTL" env-default:"168h"`

	// RedisURL enables the cross-process wake-up of the outbox relay.
	RedisURL           string `yaml:"REDIS_URL" env:"REDIS_URL"`
	RedisNotifyChannel string `yaml:"REDIS_NOTIFY_CHANNEL" env:"REDIS_NOTIFY_CHANNEL" env-default:"outbox:recorded"`

	OTel otelx.Config `yaml:"otel"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if err := libconfig.Load(path, &cfg); err != nil {
		return Config{}, err
	}
	if _, err := libconfig.Port("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
