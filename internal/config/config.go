// Package config содержит логику чтения конфигурации SMM-панели.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации SMM-панели.
// Курс и наценка фиксируются на запуске: цены каталога меняются только
// вместе с перезапуском сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	StorePath   string `env:"STORE_PATH"`
	StoreSecret string `env:"STORE_SECRET"`

	SupplierAddress string `env:"SUPPLIER_ADDRESS"`
	SupplierKey     string `env:"SUPPLIER_KEY"`

	FxRate           float64 `env:"FX_RATE"`
	PriceMargin      float64 `env:"PRICE_MARGIN"`
	MinOrderQuantity int64   `env:"MIN_ORDER_QUANTITY"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения; переменные окружения имеют приоритет.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envValues := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StorePath, "s", "panel.db", "file store path used when no database URI is set")
	flag.StringVar(&cfg.StoreSecret, "secret", "", "file store obfuscation secret")
	flag.StringVar(&cfg.SupplierAddress, "r", "", "supplier API address")
	flag.StringVar(&cfg.SupplierKey, "supplier-key", "", "supplier API key")
	flag.Float64Var(&cfg.FxRate, "fx", 56, "USD to PHP conversion rate")
	flag.Float64Var(&cfg.PriceMargin, "margin", 2.5, "retail price margin multiplier")
	flag.Int64Var(&cfg.MinOrderQuantity, "min-quantity", 50, "site-wide minimum order quantity")
	flag.StringVar(&cfg.AdminEmail, "admin-email", "", "dedicated admin account email")
	flag.StringVar(&cfg.AdminPassword, "admin-password", "", "dedicated admin account password")

	flag.Parse()

	if envValues.RunAddress != "" {
		cfg.RunAddress = envValues.RunAddress
	}
	if envValues.DatabaseURI != "" {
		cfg.DatabaseURI = envValues.DatabaseURI
	}
	if envValues.StorePath != "" {
		cfg.StorePath = envValues.StorePath
	}
	if envValues.StoreSecret != "" {
		cfg.StoreSecret = envValues.StoreSecret
	}
	if envValues.SupplierAddress != "" {
		cfg.SupplierAddress = envValues.SupplierAddress
	}
	if envValues.SupplierKey != "" {
		cfg.SupplierKey = envValues.SupplierKey
	}
	if envValues.FxRate != 0 {
		cfg.FxRate = envValues.FxRate
	}
	if envValues.PriceMargin != 0 {
		cfg.PriceMargin = envValues.PriceMargin
	}
	if envValues.MinOrderQuantity != 0 {
		cfg.MinOrderQuantity = envValues.MinOrderQuantity
	}
	if envValues.AdminEmail != "" {
		cfg.AdminEmail = envValues.AdminEmail
	}
	if envValues.AdminPassword != "" {
		cfg.AdminPassword = envValues.AdminPassword
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
