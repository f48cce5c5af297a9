// Package config содержит логику чтения конфигурации сервиса оформления заказов.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса оформления заказов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	// Адреса внешних процессингов. Пустой адрес означает, что провайдер недоступен.
	CardProviderAddress     string `env:"CARD_PROVIDER_ADDRESS"`
	RedirectProviderAddress string `env:"REDIRECT_PROVIDER_ADDRESS"`
	WalletProviderAddress   string `env:"WALLET_PROVIDER_ADDRESS"`

	AuthSecret    string `env:"AUTH_SECRET"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	// InvoiceJurisdictions задаёт соответствие валюты юрисдикции выпуска документов,
	// например "CLP=CL,EUR=ES". Валюты вне списка завершают заказ без документа.
	InvoiceJurisdictions string `env:"INVOICE_JURISDICTIONS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCardAddress := cfg.CardProviderAddress
	envRedirectAddress := cfg.RedirectProviderAddress
	envWalletAddress := cfg.WalletProviderAddress
	envAuthSecret := cfg.AuthSecret
	envWebhookSecret := cfg.WebhookSecret
	envJurisdictions := cfg.InvoiceJurisdictions

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.CardProviderAddress, "card", "", "card processor address")
	flag.StringVar(&cfg.RedirectProviderAddress, "redirect", "", "redirect processor address")
	flag.StringVar(&cfg.WalletProviderAddress, "wallet", "", "wallet processor address")
	flag.StringVar(&cfg.AuthSecret, "s", "checkout-secret", "secret for auth cookies")
	flag.StringVar(&cfg.WebhookSecret, "w", "", "secret for webhook signatures")
	flag.StringVar(&cfg.InvoiceJurisdictions, "j", "CLP=CL", "currency to invoice jurisdiction map")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCardAddress != "" {
		cfg.CardProviderAddress = envCardAddress
	}
	if envRedirectAddress != "" {
		cfg.RedirectProviderAddress = envRedirectAddress
	}
	if envWalletAddress != "" {
		cfg.WalletProviderAddress = envWalletAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envWebhookSecret != "" {
		cfg.WebhookSecret = envWebhookSecret
	}
	if envJurisdictions != "" {
		cfg.InvoiceJurisdictions = envJurisdictions
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// Jurisdictions разбирает InvoiceJurisdictions в отображение валюта → юрисдикция.
// Некорректные пары пропускаются.
func (c *Config) Jurisdictions() map[string]string {
	res := make(map[string]string)
	for _, pair := range strings.Split(c.InvoiceJurisdictions, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		res[strings.ToUpper(parts[0])] = strings.ToUpper(parts[1])
	}
	return res
}
