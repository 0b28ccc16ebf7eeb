package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "github.com/md-rashed-zaman/eventoutbox/libs/config"
	otelx "github.com/md-rashed-zaman/eventoutbox/libs/otel"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
)

type Config struct {
	ServiceName string `yaml:"SERVICE_NAME" env:"SERVICE_NAME" env-default:"notification-service"`
	Port        string `yaml:"PORT" env:"PORT" env-default:"8085"`
	LogLevel    string `yaml:"LOG_LEVEL" env:"LOG_LEVEL" env-default:"info"`
	DatabaseURL string `yaml:"DATABASE_URL" env:"DATABASE_URL" env-required:"true"`

	BrokerKind       string `yaml:"BROKER_KIND" env:"BROKER_KIND" env-default:"rabbitmq"`
	RabbitMQURL      string `yaml:"RABBITMQ_URL" env:"RABBITMQ_URL"`
	RabbitMQExchange string `yaml:"RABBITMQ_EXCHANGE" env:"RABBITMQ_EXCHANGE" env-default:"domain.events"`
	RabbitMQQueue    string `yaml:"RABBITMQ_QUEUE" env:"RABBITMQ_QUEUE" env-default:"events_queue"`
	RabbitMQPrefetch int    `yaml:"RABBITMQ_PREFETCH" env:"RABBITMQ_PREFETCH" env-default:"10"`

	KafkaBrokers     string        `yaml:"KAFKA_BROKERS" env:"KAFKA_BROKERS"`
	KafkaGroupID     string        `yaml:"KAFKA_GROUP_ID" env:"KAFKA_GROUP_ID" env-default:"notification-service"`
	KafkaTopics      string        `yaml:"KAFKA_TOPICS" env:"KAFKA_TOPICS" env-default:"user.created,invitation.created"`
	KafkaMaxAttempts int           `yaml:"KAFKA_MAX_ATTEMPTS" env:"KAFKA_MAX_ATTEMPTS" env-default:"3"`
	KafkaRetryDelay  time.Duration `yaml:"KAFKA_RETRY_DELAY" env:"KAFKA_RETRY_DELAY" env-default:"1s"`

	// SMTPHost empty means emails are logged instead of sent.
	SMTPHost      string `yaml:"SMTP_HOST" env:"SMTP_HOST"`
	SMTPPort      string `yaml:"SMTP_PORT" env:"SMTP_PORT" env-default:"1025"`
	SMTPFrom      string `yaml:"SMTP_FROM" env:"SMTP_FROM" env-default:"no-reply@example.com"`
	InviteBaseURL string `yaml:"INVITE_BASE_URL" env:"INVITE_BASE_URL" env-default:"http://localhost:3000/invitations"`

	OTel otelx.Config `yaml:"otel"`
}

func Load(path string) (Config, error) {
	var cfg Config
	if err := libconfig.Load(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := libconfig.Port("PORT", c.Port); err != nil {
		errs = append(errs, err)
	}
	switch c.BrokerKind {
	case BrokerRabbitMQ:
		if c.RabbitMQURL == "" {
			errs = append(errs, errors.New("RABBITMQ_URL is required when BROKER_KIND=rabbitmq"))
		}
	case BrokerKafka:
		if c.KafkaBrokers == "" {
			errs = append(errs, errors.New("KAFKA_BROKERS is required when BROKER_KIND=kafka"))
		}
		if len(c.Topics()) == 0 {
			errs = append(errs, errors.New("KAFKA_TOPICS must name at least one topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("BROKER_KIND must be %q or %q (got %q)", BrokerRabbitMQ, BrokerKafka, c.BrokerKind))
	}
	return errors.Join(errs...)
}

func (c Config) Topics() []string {
	var topics []string
	for _, t := range strings.Split(c.KafkaTopics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}
