package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	BaseURL         string `env:"BASE_URL,required" validate:"required,url"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL,required" validate:"required,url"`

	EncryptionKey     string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`
	OperatorJWTSecret string `env:"OPERATOR_JWT_SECRET,required" validate:"required,min=32"`

	FlowAPIURL      string `env:"FLOW_API_URL" envDefault:"https://www.flow.cl/api" validate:"required,url"`
	KhipuAPIURL     string `env:"KHIPU_API_URL" envDefault:"https://khipu.com/api/2.0" validate:"required,url"`
	TransbankAPIURL string `env:"TRANSBANK_API_URL" envDefault:"https://webpay3g.transbank.cl" validate:"required,url"`

	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	GatewayHTTPTimeout time.Duration `env:"GATEWAY_HTTP_TIMEOUT" envDefault:"20s"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix string   `env:"KAFKA_TOPIC_PREFIX" envDefault:"pagos"`

	ShippingZonesFile string `env:"SHIPPING_ZONES_FILE"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	// Gateway calls must carry a bounded timeout; an unbounded client would
	// hold request workers hostage on a stalled processor.
	if c.GatewayHTTPTimeout < 10*time.Second || c.GatewayHTTPTimeout > 30*time.Second {
		return fmt.Errorf("GATEWAY_HTTP_TIMEOUT must be between 10s and 30s, got %s", c.GatewayHTTPTimeout)
	}

	for name, raw := range map[string]string{
		"BASE_URL":          c.BaseURL,
		"FRONTEND_BASE_URL": c.FrontendBaseURL,
	} {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("%s must be a valid absolute URL", name)
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("%s must use https outside local development", name)
		}
	}

	return nil
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
