// Package config содержит логику чтения конфигурации сервиса аренды ТВ-времени.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса аренды ТВ-времени.
type Config struct {
	RunAddress            string `env:"RUN_ADDRESS"`
	DatabaseURI           string `env:"DATABASE_URI"`
	CheckoutSystemAddress string `env:"CHECKOUT_SYSTEM_ADDRESS"`
	PaymentWebhookSecret  string `env:"PAYMENT_WEBHOOK_SECRET"`
	AuthSecret            string `env:"AUTH_SECRET"`
	AmqpURL               string `env:"AMQP_URL"`
	MailAPIKey            string `env:"MAIL_API_KEY"`
	MailFrom              string `env:"MAIL_FROM"`
	AdminEmail            string `env:"ADMIN_EMAIL"`
	AdminPassword         string `env:"ADMIN_PASSWORD"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCheckoutAddress := cfg.CheckoutSystemAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CheckoutSystemAddress, "c", "", "checkout system address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCheckoutAddress != "" {
		cfg.CheckoutSystemAddress = envCheckoutAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
