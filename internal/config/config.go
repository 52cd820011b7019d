package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Database    Database

	Webhook    Webhook    `envPrefix:"WEBHOOK_"`
	PaymentAPI PaymentAPI `envPrefix:"PAYMENT_API_"`
	Checkout   Checkout   `envPrefix:"CHECKOUT_"`
	SMTP       SMTP       `envPrefix:"SMTP_"`
	BrainTree  Braintree  `envPrefix:"BRAINTREE_"`
	Auth       Auth
	Telemetry  Telemetry
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"` // sqlite, mysql, postgres
	URL    string `env:"DATABASE_URL" envDefault:"checkout.db"`
}

type Webhook struct {
	// PEM encoded RSA public key of the payment provider. Empty means every
	// webhook is rejected.
	PublicKey string `env:"PUBLIC_KEY"`
}

type PaymentAPI struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:3001/api/crypto"`
	APIKey  string        `env:"KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type Checkout struct {
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	CountdownInterval time.Duration `env:"COUNTDOWN_INTERVAL" envDefault:"1s"`
	CopiedDuration    time.Duration `env:"COPIED_DURATION" envDefault:"2s"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM" envDefault:"no-reply@localhost"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Telemetry struct {
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"marketplace-checkout"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env (when present) into the process environment and parses
// it into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
