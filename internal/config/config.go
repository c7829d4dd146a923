package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/josh-kwaku/simsync/internal/retry"
)

type Config struct {
	DatabaseURL     string `env:"DATABASE_URL,required"`
	RedisURL        string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	MirrorNamespace string `env:"MIRROR_NAMESPACE,required"`

	APIBaseURL     string `env:"API_BASE_URL" envDefault:"https://store.atom.com.mm/mytmapi/v1/my"`
	APIAuthBaseURL string `env:"API_AUTH_BASE_URL" envDefault:"https://store.atom.com.mm/mytmapi/v3/my"`
	APIVersion     string `env:"API_VERSION" envDefault:"4.11"`
	APIUserAgent   string `env:"API_USER_AGENT" envDefault:"MyTM/4.11.1/Android/35"`
	APIDeviceName  string `env:"API_DEVICE_NAME" envDefault:"simsync"`
	APITimeoutS    int    `env:"API_TIMEOUT_S" envDefault:"30"`

	RetryMaxAttempts    int `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelayMS    int `env:"RETRY_BASE_DELAY_MS" envDefault:"1000"`
	TokenRefreshMarginS int `env:"TOKEN_REFRESH_MARGIN_S" envDefault:"300"`

	ClaimConcurrency       int `env:"CLAIM_CONCURRENCY" envDefault:"20"`
	SoldRefreshConcurrency int `env:"SOLD_REFRESH_CONCURRENCY" envDefault:"5"`
	PageSize               int `env:"PAGE_SIZE" envDefault:"10"`
	AccountLimit           int `env:"ACCOUNT_LIMIT" envDefault:"100"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"simsync.events"`

	RefreshSchedule string `env:"REFRESH_SCHEDULE" envDefault:"@every 30m"`
	ClaimSchedule   string `env:"CLAIM_SCHEDULE" envDefault:"@every 6h"`

	HTTPPort int    `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ClaimConcurrency < 1 {
		return fmt.Errorf("CLAIM_CONCURRENCY must be at least 1, got %d", c.ClaimConcurrency)
	}
	if c.SoldRefreshConcurrency < 1 {
		return fmt.Errorf("SOLD_REFRESH_CONCURRENCY must be at least 1, got %d", c.SoldRefreshConcurrency)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1, got %d", c.PageSize)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	return nil
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutS) * time.Second
}

func (c *Config) TokenRefreshMargin() time.Duration {
	return time.Duration(c.TokenRefreshMarginS) * time.Second
}

func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMS) * time.Millisecond,
	}
}
