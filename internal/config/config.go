package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"Payline"`
		Port int    `envconfig:"PORT" default:"7000"`
	}

	Store struct {
		// Driver selects the ledger backend: "postgres" or "bolt".
		Driver   string `envconfig:"STORE_DRIVER" default:"postgres"`
		BoltPath string `envconfig:"BOLT_PATH" default:"payline.db"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"payline"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Processor struct {
		URL           string        `envconfig:"PROCESSOR_URL" default:"http://localhost:7100"`
		Token         string        `envconfig:"PROCESSOR_TOKEN"`
		Timeout       time.Duration `envconfig:"PROCESSOR_TIMEOUT" default:"10s"`
		RetryAttempts int           `envconfig:"PROCESSOR_RETRY_ATTEMPTS" default:"3"`
		RetryBackoff  time.Duration `envconfig:"PROCESSOR_RETRY_BACKOFF" default:"100ms"`
	}

	Idempotency struct {
		PendingTTL time.Duration `envconfig:"IDEMPOTENCY_PENDING_TTL" default:"1m"`
	}

	Auth struct {
		// JWTSecret enables bearer-token validation on /api/v1 when set.
		JWTSecret string `envconfig:"AUTH_JWT_SECRET"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
